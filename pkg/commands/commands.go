// Package commands runs the external services an interaction can call:
// skill endpoints, SMS, vision, weather and similar HTTP pass-throughs.
// Every call returns an explicit result; failures are TransientCommandError
// values that the caller logs and moves past.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Request is what an interaction hands to a command.
type Request struct {
	SessionID     string            `json:"session_id"`
	Conversation  string            `json:"conversation_id"`
	InteractionID string            `json:"interaction_id"`
	Params        map[string]string `json:"params,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
}

// Response is the successful result of a command.
type Response struct {
	Text      string            `json:"text,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
}

// Command is one external service call.
type Command interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// CommandFunc adapts a function to Command.
type CommandFunc func(ctx context.Context, req Request) (*Response, error)

func (f CommandFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// TransientCommandError reports a failed external call. The conversation
// continues; the trigger that would have followed simply does not fire.
type TransientCommandError struct {
	Command string
	Err     error
}

func (e *TransientCommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *TransientCommandError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientCommandError.
func IsTransient(err error) bool {
	var te *TransientCommandError
	return errors.As(err, &te)
}

// ErrUnknownCommand is wrapped when a registry has no command of that name.
var ErrUnknownCommand = errors.New("unknown command")

// Registry holds named commands. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds or replaces a command.
func (r *Registry) Register(name string, cmd Command) {
	r.mu.Lock()
	r.commands[name] = cmd
	r.mu.Unlock()
}

// Get returns the named command.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names lists registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Run executes the named command and normalizes every failure, including
// panics inside the command, into a TransientCommandError.
func (r *Registry) Run(ctx context.Context, name string, req Request) (resp *Response, err error) {
	cmd, ok := r.Get(name)
	if !ok {
		return nil, &TransientCommandError{Command: name, Err: ErrUnknownCommand}
	}

	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, &TransientCommandError{Command: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	resp, err = cmd.Execute(ctx, req)
	if err != nil {
		if IsTransient(err) {
			return nil, err
		}
		return nil, &TransientCommandError{Command: name, Err: err}
	}
	if resp == nil {
		resp = &Response{}
	}
	return resp, nil
}
