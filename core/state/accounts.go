package state

import "errors"

var errNegativeAmount = errors.New("state: negative amount")

// Balance returns the platform balance of an account.
func (m *Manager) Balance(account int64) (int64, error) {
	return m.getInt64(balanceKey(account))
}

// Credit adds amount to an account balance.
func (m *Manager) Credit(account, amount int64) error {
	if amount < 0 {
		return errNegativeAmount
	}
	cur, err := m.Balance(account)
	if err != nil {
		return err
	}
	return m.setInt64(balanceKey(account), cur+amount)
}

// Transfer moves up to amount from one account to another and reports the
// quantity actually moved. The platform clamps to the available balance
// instead of failing, matching host send semantics.
func (m *Manager) Transfer(from, to, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	cur, err := m.Balance(from)
	if err != nil {
		return 0, err
	}
	if amount > cur {
		amount = cur
	}
	if amount == 0 {
		return 0, nil
	}
	if err := m.setInt64(balanceKey(from), cur-amount); err != nil {
		return 0, err
	}
	if err := m.Credit(to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}
