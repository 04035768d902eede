package environment

import (
	"fmt"

	"github.com/boristopalov/agentgym/pkg/core"
	"github.com/boristopalov/agentgym/pkg/task"
)

type Kind string

const (
	KindAuto     Kind = "auto"
	KindCommand  Kind = "command"
	KindCode     Kind = "code"
	KindDialogue Kind = "dialogue"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindCommand, KindCode, KindDialogue:
		return k, nil
	}
	return "", fmt.Errorf("unknown environment type %q (want auto, command, code or dialogue)", s)
}

// Factory builds a fresh environment for every episode.
type Factory struct {
	Kind     Kind
	Options  []Option
	Personas PersonaFactory
	// NewSandbox builds the code sandbox of one episode; nil means a
	// local python3 process.
	NewSandbox func() Sandbox
	MaxTurns   int
}

// KindFor resolves KindAuto from the task's shape.
func (f *Factory) KindFor(def *task.Definition) Kind {
	if f.Kind != "" && f.Kind != KindAuto {
		return f.Kind
	}
	switch {
	case def.Dialogue != nil:
		return KindDialogue
	case def.Answer != "":
		return KindCode
	}
	return KindCommand
}

func (f *Factory) New(def *task.Definition) (core.Environment, error) {
	if def == nil {
		return nil, core.Errorf(core.ErrEnvironmentInit, "factory", "nil task")
	}
	switch kind := f.KindFor(def); kind {
	case KindCommand:
		return NewCommand(def, f.Options...), nil
	case KindCode:
		opts := f.Options
		if f.NewSandbox != nil {
			opts = append(opts[:len(opts):len(opts)], WithSandbox(f.NewSandbox()))
		}
		return NewCode(def, opts...), nil
	case KindDialogue:
		return NewDialogue(def, f.Personas, f.MaxTurns, f.Options...), nil
	default:
		return nil, core.Errorf(core.ErrEnvironmentInit, "factory", "unknown environment type %q", kind)
	}
}
