// Package action translates declarative action descriptions into calls on a
// page.Page. Parameter validation happens before the page is touched; once
// an action is valid, interaction failures are reported inside the Result.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/domdrive/internal/page"
)

// ErrInvalidAction marks validation failures.
var ErrInvalidAction = errors.New("invalid action")

// Action types.
const (
	Navigate = "navigate"
	Click    = "click"
	Fill     = "fill"
	Type     = "type"
	Press    = "press"
	Hover    = "hover"
	Focus    = "focus"
	Select   = "select"
	Check    = "check"
	Uncheck  = "uncheck"
	Scroll   = "scroll"
	Back     = "back"
	Forward  = "forward"
	Reload   = "reload"
	Wait     = "wait"
)

// maxWait bounds the "wait" action.
const maxWait = 60 * time.Second

// Action is one declarative browser interaction.
type Action struct {
	Type     string `json:"action"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Result describes what an action did.
type Result struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Direction string `json:"direction,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Executor performs actions.
type Executor struct {
	// LoadWait bounds the best-effort load wait after navigation-causing
	// actions. Default 5s.
	LoadWait time.Duration
	Logger   *slog.Logger
}

// New creates an Executor.
func New(loadWait time.Duration, logger *slog.Logger) *Executor {
	if loadWait <= 0 {
		loadWait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{LoadWait: loadWait, Logger: logger}
}

// Validate checks the parameters a has to carry for its type.
func Validate(a Action) error {
	need := func(field, v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidAction, a.Type, field)
		}
		return nil
	}
	switch a.Type {
	case Navigate:
		if a.URL == "" && a.Value == "" {
			return fmt.Errorf("%w: navigate requires url", ErrInvalidAction)
		}
	case Click, Hover, Focus, Check, Uncheck:
		return need("selector", a.Selector)
	case Fill, Type, Select:
		if err := need("selector", a.Selector); err != nil {
			return err
		}
		if a.Value == "" {
			return fmt.Errorf("%w: %s requires value", ErrInvalidAction, a.Type)
		}
	case Press:
		return need("value (key)", a.Value)
	case Scroll:
		switch strings.ToLower(a.Value) {
		case "", "up", "down":
		default:
			return fmt.Errorf("%w: scroll direction must be up or down, got %q", ErrInvalidAction, a.Value)
		}
	case Back, Forward, Reload:
	case Wait:
		if _, err := waitDuration(a.Value); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: missing action type", ErrInvalidAction)
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

func waitDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: wait requires value (milliseconds)", ErrInvalidAction)
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%w: wait value must be a non-negative integer, got %q", ErrInvalidAction, v)
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxWait {
		return 0, fmt.Errorf("%w: wait exceeds %s", ErrInvalidAction, maxWait)
	}
	return d, nil
}

// Perform validates a and runs it against p. A non-nil error means
// validation failed and p was not touched.
func (e *Executor) Perform(ctx context.Context, p page.Page, a Action) (*Result, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}

	res := &Result{Action: a.Type}
	var err error

	switch a.Type {
	case Navigate:
		target := a.URL
		if target == "" {
			target = a.Value
		}
		err = p.Navigate(ctx, target)
	case Click:
		res.Selector = a.Selector
		err = p.Click(ctx, a.Selector)
	case Fill:
		res.Selector = a.Selector
		err = p.Fill(ctx, a.Selector, a.Value)
	case Type:
		res.Selector = a.Selector
		err = p.Type(ctx, a.Selector, a.Value)
	case Press:
		res.Selector = a.Selector
		err = p.Press(ctx, a.Selector, a.Value)
	case Hover:
		res.Selector = a.Selector
		err = p.Hover(ctx, a.Selector)
	case Focus:
		res.Selector = a.Selector
		err = p.Focus(ctx, a.Selector)
	case Select:
		res.Selector = a.Selector
		err = p.SelectOption(ctx, a.Selector, a.Value)
	case Check, Uncheck:
		res.Selector = a.Selector
		err = p.SetChecked(ctx, a.Selector, a.Type == Check)
	case Scroll:
		dir := strings.ToLower(a.Value)
		if dir == "" {
			dir = "down"
		}
		res.Selector = a.Selector
		res.Direction = dir
		err = p.Scroll(ctx, a.Selector, dir)
	case Back:
		err = p.Back(ctx)
	case Forward:
		err = p.Forward(ctx)
	case Reload:
		err = p.Reload(ctx)
	case Wait:
		d, _ := waitDuration(a.Value)
		err = sleep(ctx, d)
	}

	if err != nil {
		res.Error = fmt.Sprintf("%s failed: %v", a.Type, err)
		return res, nil
	}

	if navigates(a.Type) {
		e.settle(ctx, p)
		if info, err := p.Info(ctx); err == nil {
			res.URL = info.URL
			res.Title = info.Title
		}
	}

	res.Success = true
	return res, nil
}

// settle waits for the load state. Navigation completion is observed by the
// navigation collector, so a timeout here is not an error.
func (e *Executor) settle(ctx context.Context, p page.Page) {
	wctx, cancel := context.WithTimeout(ctx, e.LoadWait)
	defer cancel()
	if err := p.WaitLoad(wctx); err != nil {
		e.Logger.Debug("action: load wait ended", "error", err)
	}
}

func navigates(t string) bool {
	switch t {
	case Click, Press, Navigate, Back, Forward, Reload:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
