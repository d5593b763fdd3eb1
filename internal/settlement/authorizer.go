package settlement

// Authorizer decides whether an account may resolve or
// administratively cancel matches. The mechanism (role list,
// multisig, oracle signature) is supplied by the surrounding system;
// the coordinator only checks the verdict.
type Authorizer interface {
	Authorize(account string) bool
}

// AllowList authorizes a fixed set of accounts
type AllowList struct {
	accounts map[string]struct{}
}

// NewAllowList creates an allow-list authorizer. An empty list
// authorizes nobody.
func NewAllowList(accounts []string) *AllowList {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return &AllowList{accounts: set}
}

// Authorize implements Authorizer
func (a *AllowList) Authorize(account string) bool {
	_, ok := a.accounts[account]
	return ok
}
