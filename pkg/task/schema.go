package task

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// taskSchema accepts every task shape the gym understands. Each arm forbids
// the identifying fields of the others, so a task resolves to one shape.
const taskSchema = `
#Legacy: {
	query!:        string
	env?:          string
	env_setup?:    string
	verify?:       string
	task?:         _|_
	user_persona?: _|_
	...
}

#Enhanced: {
	user_persona?:              _|_
	create_env?:                string
	create_noise_env_appendix?: string
	task!: {
		level?:            string
		question!:         string
		format_example?:   string
		allowed_commands?: [...string]
		reference_answer?: _
		verify_answer?:    string
		...
	}
	...
}

#Code: {
	question!:     string
	answer!:       string | number
	query?:        _|_
	task?:         _|_
	user_persona?: _|_
	...
}

#Dialogue: {
	user_persona!:            string
	task?:                    _|_
	environment_description?: string
	environment_type?:        string
	tools?: [...{
		type?: "function"
		function!: {
			name!: string
			...
		}
		...
	}]
	story_stages?:     [...]
	terminal_intents?: [...string]
	...
}

#Task: #Enhanced | #Legacy | #Code | #Dialogue
`

type validator struct {
	ctx    *cue.Context
	schema cue.Value
}

func newValidator() (*validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(taskSchema, cue.Filename("task_schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Task"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup task schema: %w", err)
	}
	return &validator{ctx: ctx, schema: schema}, nil
}

func (v *validator) validate(elem []byte) error {
	value := v.ctx.CompileBytes(elem, cue.Filename("task.json"))
	if err := value.Err(); err != nil {
		return err
	}
	if err := v.schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("task does not match any known shape: %w", err)
	}
	return nil
}

// Validate checks a task file against the schema without normalizing it.
func Validate(path string) (int, error) {
	defs, err := Load(path)
	if err != nil {
		return 0, err
	}
	return len(defs), nil
}
