package fileops

import "fmt"

// Kind is the severity of a reply. It decides the prefix the user sees.
type Kind int

const (
	Info Kind = iota
	Prompt
	Success
	Warning
	Error
)

func (k Kind) String() string {
	switch k {
	case Info:
		return "info"
	case Prompt:
		return "prompt"
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) prefix() string {
	switch k {
	case Success:
		return "✅ "
	case Warning:
		return "⚠️ "
	case Error:
		return "❌ "
	}
	return ""
}

// Reply is what the resolver says back for one line of input.
type Reply struct {
	Kind Kind
	Text string
}

func (r Reply) String() string {
	return r.Kind.prefix() + r.Text
}

func infof(format string, args ...any) Reply {
	return Reply{Kind: Info, Text: fmt.Sprintf(format, args...)}
}

func promptf(format string, args ...any) Reply {
	return Reply{Kind: Prompt, Text: fmt.Sprintf(format, args...)}
}

func successf(format string, args ...any) Reply {
	return Reply{Kind: Success, Text: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...any) Reply {
	return Reply{Kind: Warning, Text: fmt.Sprintf(format, args...)}
}

func errorf(format string, args ...any) Reply {
	return Reply{Kind: Error, Text: fmt.Sprintf(format, args...)}
}
