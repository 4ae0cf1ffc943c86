package state

import "fmt"

var (
	chainHeightKey    = []byte("chain/height")
	chainNextTxIDKey  = []byte("chain/next-tx")
	chainNextAssetKey = []byte("chain/next-asset")
)

func mapKey(contract, k1, k2 int64) []byte {
	return []byte(fmt.Sprintf("c/%d/m/%d/%d", contract, k1, k2))
}

func varKey(contract int64, name string) []byte {
	return []byte(fmt.Sprintf("c/%d/v/%s", contract, name))
}

func balanceKey(account int64) []byte {
	return []byte(fmt.Sprintf("acct/%d/balance", account))
}

func assetBalanceKey(account, asset int64) []byte {
	return []byte(fmt.Sprintf("acct/%d/asset/%d", account, asset))
}

func assetSupplyKey(asset int64) []byte {
	return []byte(fmt.Sprintf("asset/%d/supply", asset))
}

func assetDecimalsKey(asset int64) []byte {
	return []byte(fmt.Sprintf("asset/%d/decimals", asset))
}
