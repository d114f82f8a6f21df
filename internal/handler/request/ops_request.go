package request

// GasHistoryQuery is parsed with time.ParseDuration; empty means all retained samples.
type GasHistoryQuery struct {
	Period string `form:"period"`
}

type AlertsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type UserURI struct {
	UserID uint64 `uri:"user_id" binding:"required"`
}

type WalletURI struct {
	WalletID uint64 `uri:"wallet_id" binding:"required"`
}
