package mieaa

import (
	"fmt"
	"io"
	"strings"
)

type inputKind int

const (
	inputNone inputKind = iota
	inputList
	inputDelimited
	inputStream
)

// Input is a set of identifiers or category names. It is exactly one of an
// inline list, a caller-delimited string, or a stream. The zero Input is
// absent.
type Input struct {
	kind  inputKind
	items []string
	text  string
	name  string
	r     io.Reader
}

// List is an inline list; items are joined with ";".
func List(items ...string) Input {
	return Input{kind: inputList, items: append([]string(nil), items...)}
}

// Delimited is a string the caller already delimited, e.g.
// "hsa-miR-199a-5p,hsa-mir-550b-1;". It is sent verbatim.
func Delimited(s string) Input {
	return Input{kind: inputDelimited, text: s}
}

// Stream reads the set from r. Test and reference sets given as streams are
// uploaded as files named name; a stream can only be consumed once.
func Stream(name string, r io.Reader) Input {
	return Input{kind: inputStream, name: name, r: r}
}

// IsZero reports an absent input.
func (in Input) IsZero() bool { return in.kind == inputNone }

// IsStream reports a stream input.
func (in Input) IsStream() bool { return in.kind == inputStream }

// identifiers normalises the input for the converters: streams are read
// line by line and every form ends up as one ";"-delimited string.
func (in Input) identifiers() (string, error) {
	switch in.kind {
	case inputList:
		return strings.Join(in.items, ";"), nil
	case inputDelimited:
		return in.text, nil
	case inputStream:
		b, err := in.read()
		if err != nil {
			return "", err
		}
		return strings.Join(splitLines(string(b)), ";"), nil
	default:
		return "", nil
	}
}

// raw normalises the input for category parsing: streams are read verbatim.
func (in Input) raw() (string, error) {
	switch in.kind {
	case inputList:
		return strings.Join(in.items, ";"), nil
	case inputDelimited:
		return in.text, nil
	case inputStream:
		b, err := in.read()
		return string(b), err
	default:
		return "", nil
	}
}

func (in Input) read() ([]byte, error) {
	if in.r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(in.r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.displayName(), err)
	}
	return b, nil
}

func (in Input) displayName() string {
	if in.name != "" {
		return in.name
	}
	return "stream"
}

// splitLines splits on \n, \r\n and \r without yielding a trailing empty
// line.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
