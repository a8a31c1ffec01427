package session

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ptgott/mailrelay/transport"
)

// Class is the category of a reply, given by the first digit of its code.
type Class int

// Reply classes, RFC 5321 §4.2.1
const (
	Preliminary Class = iota + 1
	Completion
	Intermediate
	TransientNegative
	PermanentNegative
)

func (c Class) String() string {
	switch c {
	case Preliminary:
		return "positive preliminary"
	case Completion:
		return "positive completion"
	case Intermediate:
		return "positive intermediate"
	case TransientNegative:
		return "transient negative completion"
	case PermanentNegative:
		return "permanent negative completion"
	default:
		return fmt.Sprintf("unknown class %d", int(c))
	}
}

// ClassOf returns the class of a reply code.
func ClassOf(code int) Class {
	return Class(code / 100)
}

const malformedReply = "malformed reply"

// ReplyLine is one line of a reply as it appears on the wire.
type ReplyLine struct {
	Code int
	// More is true if further lines of the same reply follow
	More bool
	Text string
}

// ParseReplyLine parses a line like "250-SIZE 1000" or "354 go ahead". A
// line that's too short, doesn't start with three digits or doesn't have
// "-" or " " after them yields a *ProtocolError.
func ParseReplyLine(l string) (ReplyLine, error) {
	if len(l) < 3 {
		return ReplyLine{}, &ProtocolError{Message: malformedReply, Line: l}
	}
	code := 0
	for i := 0; i < 3; i++ {
		if l[i] < '0' || l[i] > '9' {
			return ReplyLine{}, &ProtocolError{Message: malformedReply, Line: l}
		}
		code = code*10 + int(l[i]-'0')
	}

	if len(l) == 3 {
		return ReplyLine{Code: code}, nil
	}

	switch l[3] {
	case '-':
		return ReplyLine{Code: code, More: true, Text: l[4:]}, nil
	case ' ':
		return ReplyLine{Code: code, Text: l[4:]}, nil
	default:
		return ReplyLine{}, &ProtocolError{Message: malformedReply, Line: l}
	}
}

// Reply is a complete reply, possibly spanning several lines.
type Reply struct {
	Code  int
	Lines []string
}

// Class returns the reply's class.
func (r Reply) Class() Class {
	return ClassOf(r.Code)
}

// Message returns the text of the final line of the reply, exactly as the
// relay sent it.
func (r Reply) Message() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[len(r.Lines)-1]
}

// ReadReply reads lines from t until the end of one reply. Every line of a
// multi-line reply must carry the same code.
func ReadReply(t transport.Transport) (Reply, error) {
	var r Reply
	for {
		l, err := t.ReadLine()
		if err != nil {
			return Reply{}, &IOError{Err: err}
		}
		log.Debug().Msg("S: " + l)

		rl, err := ParseReplyLine(l)
		if err != nil {
			return Reply{}, err
		}
		if len(r.Lines) > 0 && rl.Code != r.Code {
			return Reply{}, &ProtocolError{Message: malformedReply, Line: l}
		}

		r.Code = rl.Code
		r.Lines = append(r.Lines, rl.Text)
		if !rl.More {
			return r, nil
		}
	}
}
