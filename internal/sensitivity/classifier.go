// Package sensitivity classifies shell commands and file operations into the
// risk levels that decide whether a human must approve them before they run.
package sensitivity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Level orders operation risk. When multiple rules match, the highest class
// wins; the default for anything unrecognized is Prompt, never Auto.
type Level int

const (
	Auto Level = iota
	Prompt
	High
	Blocked
)

func (l Level) String() string {
	switch l {
	case Auto:
		return "auto"
	case Prompt:
		return "prompt"
	case High:
		return "high"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps the wire form back to a Level. Unknown strings come back as
// Prompt, the fail-safe default.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return Auto
	case "prompt":
		return Prompt
	case "high":
		return High
	case "blocked":
		return Blocked
	default:
		return Prompt
	}
}

// Op identifies the gateway operation kind for file classification.
type Op string

const (
	OpReadFile     Op = "read_file"
	OpGetStructure Op = "get_structure"
	OpEditFile     Op = "edit_file"
)

// Decision is a classification result. Rule names the matched pattern so the
// audit trail can record why an operation was escalated or blocked.
type Decision struct {
	Level Level
	Rule  string
}

// Command patterns, evaluated blocked > high > prompt > auto; first match
// within a class wins. Input is lowercased first, the (?i) is belt and braces
// for config-supplied extras passing through the same matcher.
var blockedCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*sudo\b`),
	regexp.MustCompile(`(?i)\bsudo\s`),
	regexp.MustCompile(`(?i)(^|[;&|(]\s*)su\b`),
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/\s*$`),
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/[^/]`),
	regexp.MustCompile(`(?i)\bcurl\s+.*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)\bwget\s+.*\|\s*(ba)?sh`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`(?i)\bnc\s+-[el]`),
	regexp.MustCompile(`(?i)\bncat\s+-[el]`),
	regexp.MustCompile(`(?i)\bnetcat\s+-[el]`),
	regexp.MustCompile(`(?i)\bchmod\s+777\s+/`),
	regexp.MustCompile(`(?i)\bchown\s+.*\s+/`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{`),
	regexp.MustCompile(`/etc/`),
	regexp.MustCompile(`/var/`),
	regexp.MustCompile(`/usr/`),
	regexp.MustCompile(`(?i)~/\.ssh`),
	regexp.MustCompile(`(?i)\.ssh/`),
	regexp.MustCompile(`(?i)~/\.gnupg`),
	regexp.MustCompile(`(?i)\.gnupg\b`),
}

var highCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\b`),
	regexp.MustCompile(`(?i)\brm\s+-r\b`),
	regexp.MustCompile(`(?i)\bgit\s+push\b`),
	regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard`),
	regexp.MustCompile(`(?i)\bdocker\s+rm\b`),
	regexp.MustCompile(`(?i)\bdocker\s+rmi\b`),
	regexp.MustCompile(`(?i)\bkill\s+-9\b`),
	regexp.MustCompile(`(?i)\bpkill\b`),
	regexp.MustCompile(`(?i)\bkillall\b`),
	regexp.MustCompile(`(?i)\btruncate\b`),
	regexp.MustCompile(`(?i)\bshred\b`),
}

var promptCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmv\s`),
	regexp.MustCompile(`(?i)\bcp\s+-r`),
	regexp.MustCompile(`(?i)\bnpm\s+install\b`),
	regexp.MustCompile(`(?i)\bnpm\s+i\b`),
	regexp.MustCompile(`(?i)\byarn\s+add\b`),
	regexp.MustCompile(`(?i)\byarn\s+install\b`),
	regexp.MustCompile(`(?i)\bpnpm\s+(install|add)\b`),
	regexp.MustCompile(`(?i)\bpip3?\s+install\b`),
	regexp.MustCompile(`(?i)\bgit\s+commit\b`),
	regexp.MustCompile(`(?i)\bgit\s+merge\b`),
	regexp.MustCompile(`(?i)\bgit\s+rebase\b`),
	regexp.MustCompile(`(?i)\bgit\s+checkout\b`),
	regexp.MustCompile(`(?i)\bgit\s+branch\s+-d\b`),
	regexp.MustCompile(`(?i)\bchmod\b`),
	regexp.MustCompile(`(?i)\bchown\b`),
}

var autoCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*ls\b`),
	regexp.MustCompile(`(?i)^\s*cat\b`),
	regexp.MustCompile(`(?i)^\s*head\b`),
	regexp.MustCompile(`(?i)^\s*tail\b`),
	regexp.MustCompile(`(?i)^\s*grep\b`),
	regexp.MustCompile(`(?i)^\s*find\b`),
	regexp.MustCompile(`(?i)^\s*echo\b`),
	regexp.MustCompile(`(?i)^\s*pwd\b`),
	regexp.MustCompile(`(?i)^\s*wc\b`),
	regexp.MustCompile(`(?i)^\s*date\b`),
	regexp.MustCompile(`(?i)^\s*whoami\b`),
	regexp.MustCompile(`(?i)^\s*which\b`),
	regexp.MustCompile(`(?i)^\s*file\b`),
	regexp.MustCompile(`(?i)^\s*stat\b`),
}

// File patterns. Blocked forces the level regardless of operation; the
// config-like set maps to Prompt on read and High on edit.
var blockedFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.env$`),
	regexp.MustCompile(`(?i)\.env\.`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.p12$`),
	regexp.MustCompile(`(?i)\.pfx$`),
	regexp.MustCompile(`(?i)id_rsa`),
	regexp.MustCompile(`(?i)id_ed25519`),
	regexp.MustCompile(`(?i)id_ecdsa`),
	regexp.MustCompile(`(?i)id_dsa`),
	regexp.MustCompile(`(?i)\.git/config$`),
	regexp.MustCompile(`(?i)\.git/credentials`),
	regexp.MustCompile(`(?i)secrets\.yaml$`),
	regexp.MustCompile(`(?i)secrets\.enc\.yaml$`),
	regexp.MustCompile(`(?i)\.aws/credentials`),
	regexp.MustCompile(`(?i)\.ssh/`),
}

var configFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.git/`),
	regexp.MustCompile(`(?i)\.gitignore$`),
	regexp.MustCompile(`(?i)config\.yaml$`),
	regexp.MustCompile(`(?i)config\.json$`),
	regexp.MustCompile(`(?i)settings\.py$`),
	regexp.MustCompile(`(?i)\.dockerignore$`),
	regexp.MustCompile(`(?i)dockerfile$`),
	regexp.MustCompile(`(?i)docker-compose`),
}

// Redirects into /dev/ are blocked except for the harmless character devices.
var (
	devWriteRe     = regexp.MustCompile(`>\s*/dev/[^\s;|&]*`)
	devWriteSafeRe = regexp.MustCompile(`^>\s*/dev/(null|stdout|stderr|tty[0-9]*)$`)
)

// Config carries operator-supplied pattern extensions. Invalid regular
// expressions are skipped with a warning rather than failing startup.
type Config struct {
	BlockedCommands []string
	HighCommands    []string
	PromptCommands  []string
	AutoCommands    []string
	BlockedFiles    []string
	ConfigFiles     []string
}

// Classifier evaluates the pattern tables. Zero extra configuration gives the
// built-in taxonomy.
type Classifier struct {
	blockedCmd  []*regexp.Regexp
	highCmd     []*regexp.Regexp
	promptCmd   []*regexp.Regexp
	autoCmd     []*regexp.Regexp
	blockedFile []*regexp.Regexp
	configFile  []*regexp.Regexp
}

// NewClassifier builds a classifier from the built-in tables plus any
// configured extensions.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		blockedCmd:  append(append([]*regexp.Regexp(nil), blockedCommandPatterns...), compilePatterns(cfg.BlockedCommands)...),
		highCmd:     append(append([]*regexp.Regexp(nil), highCommandPatterns...), compilePatterns(cfg.HighCommands)...),
		promptCmd:   append(append([]*regexp.Regexp(nil), promptCommandPatterns...), compilePatterns(cfg.PromptCommands)...),
		autoCmd:     append(append([]*regexp.Regexp(nil), autoCommandPatterns...), compilePatterns(cfg.AutoCommands)...),
		blockedFile: append(append([]*regexp.Regexp(nil), blockedFilePatterns...), compilePatterns(cfg.BlockedFiles)...),
		configFile:  append(append([]*regexp.Regexp(nil), configFilePatterns...), compilePatterns(cfg.ConfigFiles)...),
	}
}

// ClassifyCommand assigns a risk level to a shell command string.
func (c *Classifier) ClassifyCommand(command string) Decision {
	cmd := strings.ToLower(strings.TrimSpace(command))

	if hasUnsafeDevWrite(cmd) {
		return Decision{Level: Blocked, Rule: "write to /dev/"}
	}
	if d, ok := matchClass(c.blockedCmd, cmd, Blocked); ok {
		return d
	}
	if d, ok := matchClass(c.highCmd, cmd, High); ok {
		return d
	}
	if d, ok := matchClass(c.promptCmd, cmd, Prompt); ok {
		return d
	}
	if d, ok := matchClass(c.autoCmd, cmd, Auto); ok {
		return d
	}
	return Decision{Level: Prompt, Rule: "default"}
}

// ClassifyFileOp assigns a risk level to a file operation on the
// workspace-relative path.
func (c *Classifier) ClassifyFileOp(op Op, relpath string) Decision {
	path := strings.ToLower(relpath)

	if d, ok := matchClass(c.blockedFile, path, Blocked); ok {
		return d
	}

	switch op {
	case OpReadFile, OpGetStructure:
		if d, ok := matchClass(c.configFile, path, Prompt); ok {
			return d
		}
		return Decision{Level: Auto}
	case OpEditFile:
		if d, ok := matchClass(c.configFile, path, High); ok {
			return d
		}
		return Decision{Level: Prompt}
	default:
		return Decision{Level: Prompt, Rule: "unknown operation"}
	}
}

func matchClass(patterns []*regexp.Regexp, input string, level Level) (Decision, bool) {
	for _, re := range patterns {
		if re.MatchString(input) {
			return Decision{Level: level, Rule: re.String()}, true
		}
	}
	return Decision{}, false
}

func hasUnsafeDevWrite(cmd string) bool {
	for _, m := range devWriteRe.FindAllString(cmd, -1) {
		if !devWriteSafeRe.MatchString(m) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("Skipping invalid sensitivity pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}
