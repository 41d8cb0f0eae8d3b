package application

import "github.com/dmehra2102/payment-aggregator/internal/payment/domain"

var walletCatalog = []domain.Wallet{
	{Code: "mpesa", Name: "M-Pesa", Country: "Lesotho"},
	{Code: "ecocash", Name: "EcoCash", Country: "Lesotho"},
	{Code: "mywallet", Name: "MyWallet", Country: "Lesotho"},
	{Code: "cpay", Name: "CPay", Country: "Lesotho"},
	{Code: "khetsi", Name: "Khetsi", Country: "Lesotho"},
	{Code: "eft", Name: "Bank EFT", Country: "Lesotho"},
	{Code: "card", Name: "Card", Country: "International"},
}

// ListWallets returns the static catalog of supported rails.
func ListWallets() []domain.Wallet {
	out := make([]domain.Wallet, len(walletCatalog))
	copy(out, walletCatalog)
	return out
}
