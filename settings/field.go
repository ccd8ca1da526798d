package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yllada/pvpn/common"
)

// Field is one editable setting. The set of implementations is closed:
// EnumField and ValueField.
type Field interface {
	// Name is the label shown in prompts and menus.
	Name() string
	// Current renders the current value for display.
	Current() string

	edit(t Terminal) error
}

// EnumField is a setting with a fixed list of options. The user picks one
// by index and is asked again until the index is valid.
type EnumField[T any] struct {
	Label   string
	Options []T
	Get     func() T
	Set     func(T)
}

// Name implements Field.
func (f EnumField[T]) Name() string { return f.Label }

// Current implements Field.
func (f EnumField[T]) Current() string { return fmt.Sprint(f.Get()) }

func (f EnumField[T]) edit(t Terminal) error {
	labels := make([]string, len(f.Options))
	for i, opt := range f.Options {
		labels[i] = fmt.Sprint(opt)
	}
	idx, err := choose(t, f.Label, labels)
	if err != nil {
		return err
	}
	f.Set(f.Options[idx])
	return nil
}

// ValueField is a free-text setting. The input, trimmed unless secret, is
// parsed once; a parse failure aborts the edit.
type ValueField[T any] struct {
	Label string
	// Secret hides the input and the current value.
	Secret bool
	Parse  func(string) (T, error)
	Get    func() T
	Set    func(T)
}

// Name implements Field.
func (f ValueField[T]) Name() string { return f.Label }

// Current implements Field.
func (f ValueField[T]) Current() string {
	v := fmt.Sprint(f.Get())
	if f.Secret && v != "" {
		return "********"
	}
	return v
}

func (f ValueField[T]) edit(t Terminal) error {
	t.Printf("Enter %s: ", f.Label)

	var line string
	var err error
	if f.Secret {
		line, err = t.ReadSecret()
	} else {
		line, err = t.ReadLine()
	}
	if err != nil {
		return err
	}

	if !f.Secret {
		line = strings.TrimSpace(line)
	}
	v, err := f.Parse(line)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", common.ErrInvalidInput, f.Label, err)
	}
	f.Set(v)
	return nil
}

// choose lists labels with their index and reads until a valid index is
// entered.
func choose(t Terminal, title string, labels []string) (int, error) {
	t.Printf("%s:\n", title)
	for i, label := range labels {
		t.Printf("\t%d) %s\n", i, label)
	}

	for {
		t.Printf("Enter %s: ", title)
		line, err := t.ReadLine()
		if err != nil {
			return 0, err
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && idx >= 0 && idx < len(labels) {
			return idx, nil
		}
		t.Printf("Enter a number between 0 and %d\n", len(labels)-1)
	}
}

// String parses a non-empty string.
func String(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("value is empty")
	}
	return s, nil
}
