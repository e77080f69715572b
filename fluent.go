package sshkit

import (
	"strings"
)

// Builder provides a fluent API for constructing remote command lines.
type Builder struct {
	bin  string
	args []string
	env  []EnvVar
	dir  string
}

// Cmd creates a new Builder for a command with the given name/path.
func Cmd(binary string) *Builder {
	return &Builder{bin: binary}
}

// Arg adds a single argument.
func (b *Builder) Arg(arg string) *Builder {
	b.args = append(b.args, arg)
	return b
}

// Args adds multiple arguments.
func (b *Builder) Args(args ...string) *Builder {
	b.args = append(b.args, args...)
	return b
}

// Env adds an environment variable sent through the channel before exec.
func (b *Builder) Env(key, value string) *Builder {
	b.env = append(b.env, EnvVar{Name: key, Value: value})
	return b
}

// Dir runs the command from dir.
func (b *Builder) Dir(dir string) *Builder {
	b.dir = dir
	return b
}

// Environment returns the variables added with Env.
func (b *Builder) Environment() []EnvVar {
	return b.env
}

// String returns the POSIX shell command line: every argument quoted as needed, prefixed with a cd
// when Dir was set.
func (b *Builder) String() string {
	var sb strings.Builder

	if b.dir != "" {
		sb.WriteString("cd ")
		sb.WriteString(Quote(b.dir))
		sb.WriteString(" && ")
	}

	sb.WriteString(Quote(b.bin))

	for _, arg := range b.args {
		sb.WriteByte(' ')
		sb.WriteString(Quote(arg))
	}

	return sb.String()
}

// Quote returns s single-quoted for a POSIX shell unless it is made only of safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.IndexFunc(s, unsafeShellRune) < 0 {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unsafeShellRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./=:,+@%", r):
		return false
	default:
		return true
	}
}
