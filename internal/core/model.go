package core

import "time"

// User is the identity that fired a trigger. Sources fill what they know;
// everything else stays at its zero value.
type User struct {
	ID            string
	Login         string
	Name          string // display name
	Input         string // free text typed with the redemption, command or cheer
	Color         string
	IsBroadcaster bool
	IsModerator   bool
	IsVIP         bool
	IsSubscriber  bool
	Bits          int
	BitsTotal     int
}

// ChatMessage is a single PRIVMSG as parsed from Twitch IRC.
type ChatMessage struct {
	ID             string
	Ts             time.Time
	Channel        string
	UserID         string
	Login          string
	DisplayName    string
	Text           string
	Color          string
	IsAction       bool // sent with /me
	IsBroadcaster  bool
	IsModerator    bool
	IsVIP          bool
	IsSubscriber   bool
	Bits           int
	CustomRewardID string
}

// Redemption is a channel point reward redemption.
type Redemption struct {
	ID        string
	RewardID  string
	UserID    string
	UserLogin string
	UserName  string
	UserInput string
	Ts        time.Time
}

// Cheer is a bits cheer.
type Cheer struct {
	UserID      string
	UserLogin   string
	UserName    string
	Message     string
	Bits        int
	TotalBits   int
	IsAnonymous bool
	Ts          time.Time
}

func (Redemption) TriggerSource() string  { return "reward" }
func (Cheer) TriggerSource() string       { return "cheer" }
func (ChatMessage) TriggerSource() string { return "command" }
