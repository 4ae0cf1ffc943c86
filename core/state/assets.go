package state

// IssueAsset registers a new asset and returns its id. Asset ids are
// monotonic and start at 1 so that id 0 keeps meaning "the platform balance"
// in fund pulls.
func (m *Manager) IssueAsset(decimals int64) (int64, error) {
	next, err := m.getInt64(chainNextAssetKey)
	if err != nil {
		return 0, err
	}
	next++
	if err := m.setInt64(chainNextAssetKey, next); err != nil {
		return 0, err
	}
	if err := m.setInt64(assetDecimalsKey(next), decimals); err != nil {
		return 0, err
	}
	return next, nil
}

// AssetBalance returns the asset holdings of an account.
func (m *Manager) AssetBalance(account, asset int64) (int64, error) {
	return m.getInt64(assetBalanceKey(account, asset))
}

// AssetSupply returns the total minted quantity of an asset.
func (m *Manager) AssetSupply(asset int64) (int64, error) {
	return m.getInt64(assetSupplyKey(asset))
}

// MintAsset creates quantity units of an asset in the holder's account.
func (m *Manager) MintAsset(holder, asset, quantity int64) error {
	if quantity <= 0 {
		return nil
	}
	supply, err := m.AssetSupply(asset)
	if err != nil {
		return err
	}
	if err := m.setInt64(assetSupplyKey(asset), supply+quantity); err != nil {
		return err
	}
	cur, err := m.AssetBalance(holder, asset)
	if err != nil {
		return err
	}
	return m.setInt64(assetBalanceKey(holder, asset), cur+quantity)
}

// TransferAsset moves up to quantity of an asset between accounts and
// reports the quantity actually moved, clamping to the available holdings.
func (m *Manager) TransferAsset(from, to, asset, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, nil
	}
	cur, err := m.AssetBalance(from, asset)
	if err != nil {
		return 0, err
	}
	if quantity > cur {
		quantity = cur
	}
	if quantity == 0 {
		return 0, nil
	}
	if err := m.setInt64(assetBalanceKey(from, asset), cur-quantity); err != nil {
		return 0, err
	}
	target, err := m.AssetBalance(to, asset)
	if err != nil {
		return 0, err
	}
	if err := m.setInt64(assetBalanceKey(to, asset), target+quantity); err != nil {
		return 0, err
	}
	return quantity, nil
}
