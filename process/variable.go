package process

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/pkg/errors"
)

// Variable a named, typed slot of the process variable store.
// StepScoped variables belong to the current step instance and are not visible to other steps.
type Variable[T any] struct {
	Name         string
	DefaultValue T
	StepScoped   bool
}

func (v Variable[T]) String() string {
	return v.Name
}

func lookup[T any](pc *ProcessContext, v Variable[T]) (any, bool) {
	if v.StepScoped {
		return pc.execution.GetLocalVariable(v.Name)
	}
	return pc.execution.GetVariable(v.Name)
}

// Get reads v, the default value is returned until v is set
func Get[T any](pc *ProcessContext, v Variable[T]) T {
	raw, ok := lookup(pc, v)
	if !ok || raw == nil {
		return v.DefaultValue
	}
	if typed, ok := raw.(T); ok {
		return typed
	}
	value, err := convert[T](raw)
	if err != nil {
		slog.ErrorContext(pc.Context(), fmt.Sprintf("variable %s holds %T, want %s, err: %v", v.Name, raw, reflect.TypeFor[T](), err))
		return v.DefaultValue
	}
	return value
}

// Set stores value in its JSON form, which is what survives a suspension
func Set[T any](pc *ProcessContext, v Variable[T], value T) {
	stored, err := toJSONValue(value)
	if err != nil {
		slog.ErrorContext(pc.Context(), fmt.Sprintf("variable %s: cannot store %T, err: %v", v.Name, value, err))
		return
	}
	if v.StepScoped {
		pc.execution.SetLocalVariable(v.Name, stored)
		return
	}
	pc.execution.SetVariable(v.Name, stored)
}

// Put stores value into vars the way Set does, for seeding the variables of a new process instance
func Put[T any](vars map[string]any, v Variable[T], value T) error {
	stored, err := toJSONValue(value)
	if err != nil {
		return errors.Wrapf(err, "variable %s: cannot store %T", v.Name, value)
	}
	vars[v.Name] = stored
	return nil
}

func Remove[T any](pc *ProcessContext, v Variable[T]) {
	if v.StepScoped {
		pc.execution.RemoveLocalVariable(v.Name)
		return
	}
	pc.execution.RemoveVariable(v.Name)
}

func IsSet[T any](pc *ProcessContext, v Variable[T]) bool {
	raw, ok := lookup(pc, v)
	return ok && raw != nil
}

func convert[T any](raw any) (T, error) {
	var value T
	b, err := json.Marshal(raw)
	if err != nil {
		return value, err
	}
	err = json.Unmarshal(b, &value)
	return value, err
}

// toJSONValue numbers become json.Number, int64 values keep every digit
func toJSONValue(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	var stored any
	if err := decoder.Decode(&stored); err != nil {
		return nil, err
	}
	return stored, nil
}
