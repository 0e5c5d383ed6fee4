package vote

import "fmt"

type OptionKind int

const (
	OptionApprove OptionKind = iota
	OptionReject
	OptionAbstain
)

var optionLabels = []string{
	"✅ Oui, pas de soucis !",
	"🚫 Non, je ne souhaite pas",
	"❔ Ne connait pas / se prononce pas",
}

const questionFormat = "🆕 Nouvelle demande → %s souhaite se joindre à nous ! Souhaitez-vous l'intégrer à l'événement ?"

func (o OptionKind) Label() string {
	if o < 0 || int(o) >= len(optionLabels) {
		return "Unknown"
	}
	return optionLabels[o]
}

func AllOptions() []string {
	out := make([]string, len(optionLabels))
	copy(out, optionLabels)
	return out
}

// Ballot is what the transport posts to the chat.
type Ballot struct {
	Question  string
	Options   []string
	Anonymous bool
}

// NewBallot builds the fixed join-approval ballot for a requester.
// Individual answers are never revealed.
func NewBallot(req JoinRequest) Ballot {
	return Ballot{
		Question:  fmt.Sprintf(questionFormat, req.Name()),
		Options:   AllOptions(),
		Anonymous: true,
	}
}

// VoteRef identifies a vote posted by the transport.
type VoteRef struct {
	VoteID    string
	MessageID int
}
