package domain

// Account is a party that sends or receives money.
type Account struct {
	ID string `json:"id"`
}

// Transfer is a directed money movement. Ground truth is deliberately absent:
// scoring code only ever sees this type.
type Transfer struct {
	ID         int64   `json:"id"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Amount     float64 `json:"amount"`
	Step       int     `json:"step"`
	Type       string  `json:"type"`
}

// TransferRecord is a loader row, the only place the fraud label travels
// alongside a transfer before it reaches the store.
type TransferRecord struct {
	Transfer
	Fraud bool `json:"fraud"`
}

// Label is the evaluation-only ground truth for one transfer.
type Label struct {
	TransferID int64
	Fraud      bool
}

// TransferScore is a transfer joined with the derived properties the
// refiner and exports read.
type TransferScore struct {
	Transfer
	Props map[string]float64 `json:"props"`
	Text  map[string]string  `json:"text,omitempty"`
}

// Counts summarises the store contents.
type Counts struct {
	Accounts  int64 `json:"accounts"`
	Transfers int64 `json:"transfers"`
	Flagged   int64 `json:"flagged"`
}

// RankedTransfer is one row of a top-N listing.
type RankedTransfer struct {
	ID         int64   `json:"id"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Amount     float64 `json:"amount"`
	Step       int     `json:"step"`
	Score      float64 `json:"score"`
	Flagged    bool    `json:"flagged"`
	Confidence float64 `json:"confidence"`
	Tier       string  `json:"tier,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// RankedAccount is one row of a top-N account listing.
type RankedAccount struct {
	ID           string  `json:"id"`
	AnomalyScore float64 `json:"anomalyScore"`
	PatternScore float64 `json:"patternScore"`
	Suspicious   bool    `json:"suspicious"`
}
