package triggers

import "github.com/you/streamrig/internal/core"

// UserFromRedemption builds the acting user for a reward redemption.
func UserFromRedemption(r core.Redemption) core.User {
	return core.User{
		ID:    r.UserID,
		Login: r.UserLogin,
		Name:  r.UserName,
		Input: r.UserInput,
	}
}

// UserFromCheer builds the acting user for a cheer. Anonymous cheers keep
// the zero identity.
func UserFromCheer(c core.Cheer) core.User {
	u := core.User{
		Input:     c.Message,
		Bits:      c.Bits,
		BitsTotal: c.TotalBits,
	}
	if !c.IsAnonymous {
		u.ID = c.UserID
		u.Login = c.UserLogin
		u.Name = c.UserName
	}
	return u
}

// UserFromChat builds the acting user for a chat command. input is the
// text after the command word.
func UserFromChat(m core.ChatMessage, input string) core.User {
	name := m.DisplayName
	if name == "" {
		name = m.Login
	}
	return core.User{
		ID:            m.UserID,
		Login:         m.Login,
		Name:          name,
		Input:         input,
		Color:         m.Color,
		IsBroadcaster: m.IsBroadcaster,
		IsModerator:   m.IsModerator,
		IsVIP:         m.IsVIP,
		IsSubscriber:  m.IsSubscriber,
		Bits:          m.Bits,
	}
}

// BroadcasterUser is the user programmatic command runs act as.
func BroadcasterUser(id, login, name string) core.User {
	if name == "" {
		name = login
	}
	return core.User{ID: id, Login: login, Name: name, IsBroadcaster: true}
}
