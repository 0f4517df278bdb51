// Package policy はメッセージ送信可否を判定する純粋関数を提供する。
//
// ブロック関係は片方向で保存されるが、判定は常に双方向で行う。
// どちらがブロックしたかに関わらず、一方でもブロックしていれば送信できない。
package policy

// Reason はブロック判定の理由。
type Reason string

const (
	// ReasonNone はブロックされていないことを表す。
	ReasonNone Reason = "none"
	// ReasonIBlocked は送信者自身が相手をブロックしていることを表す。
	ReasonIBlocked Reason = "i_blocked"
	// ReasonTheyBlockedMe は相手が送信者をブロックしていることを表す。
	ReasonTheyBlockedMe Reason = "they_blocked_me"
)

// Decision はブロック判定の結果。
type Decision struct {
	// Allowed は送信できる場合にtrue。
	Allowed bool
	// Reason は拒否された理由。許可された場合はReasonNone。
	Reason Reason
}

// Status は2アカウント間のブロック状態。
type Status struct {
	// IBlocked は閲覧者が相手をブロックしているか。
	IBlocked bool `json:"i_blocked"`
	// TheyBlockedMe は相手が閲覧者をブロックしているか。
	TheyBlockedMe bool `json:"they_blocked_me"`
	// Blocked はどちらか一方でもブロックしているか。
	Blocked bool `json:"blocked"`
}

// BlockedSet はアカウントがブロックしているアカウントIDの集合。
type BlockedSet map[string]struct{}

// NewBlockedSet はID一覧から集合を生成する。
func NewBlockedSet(ids ...string) BlockedSet {
	s := make(BlockedSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has はidが集合に含まれるか返す。nilの集合は空として扱う。
func (s BlockedSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// CanMessage はsenderからrecipientへ送信できるか判定する。
// recipientがsenderにブロックされている、またはsenderがrecipientに
// ブロックされている場合はfalse。
func CanMessage(senderID, recipientID string, senderBlocked, recipientBlocked BlockedSet) bool {
	return Evaluate(senderID, recipientID, senderBlocked, recipientBlocked).Allowed
}

// Evaluate は送信可否と拒否理由を返す。両方向でブロックしている場合は
// ReasonIBlockedを返す。
func Evaluate(senderID, recipientID string, senderBlocked, recipientBlocked BlockedSet) Decision {
	switch {
	case senderBlocked.Has(recipientID):
		return Decision{Allowed: false, Reason: ReasonIBlocked}
	case recipientBlocked.Has(senderID):
		return Decision{Allowed: false, Reason: ReasonTheyBlockedMe}
	default:
		return Decision{Allowed: true, Reason: ReasonNone}
	}
}

// StatusBetween は閲覧者から見た相手とのブロック状態を返す。
func StatusBetween(viewerID, otherID string, viewerBlocked, otherBlocked BlockedSet) Status {
	iBlocked := viewerBlocked.Has(otherID)
	theyBlocked := otherBlocked.Has(viewerID)
	return Status{
		IBlocked:      iBlocked,
		TheyBlockedMe: theyBlocked,
		Blocked:       iBlocked || theyBlocked,
	}
}
