package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountCash  AccountType = "cash"
	AccountBank  AccountType = "bank"
	AccountDPS   AccountType = "dps"
	AccountOther AccountType = "other"

	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	ModeFixed   AllocationMode = "fixed"
	ModePercent AllocationMode = "percent"

	StatusPending AllocationStatus = "pending"
	StatusDonated AllocationStatus = "donated"

	Daily   RepetitionType = "daily"
	Weekly  RepetitionType = "weekly"
	Monthly RepetitionType = "monthly"
	Yearly  RepetitionType = "yearly"

	AmountFixed   DPSAmountType = "fixed"
	AmountPercent DPSAmountType = "percent"

	DirectionContribution DPSDirection = "contribution"
	DirectionWithdrawal   DPSDirection = "withdrawal"
)

type (
	AccountType      string
	TransactionType  string
	AllocationMode   string
	AllocationStatus string
	RepetitionType   string
	DPSAmountType    string
	DPSDirection     string

	// Account is a single-owner money holder. Its balance is never stored;
	// it is derived from InitialBalance plus the account's transactions.
	Account struct {
		ID             string
		Name           string
		Type           AccountType
		Currency       Currency
		InitialBalance Money
		Active         bool

		// Recurring-deposit overlay. HasDPS is only ever set on a primary
		// account; the linked savings sub-account carries no flag and is
		// identified solely by DPSSavingsAccountID pointing at it.
		HasDPS              bool
		DPSType             RepetitionType
		DPSAmountType       DPSAmountType
		DPSFixedAmount      Money
		DPSPercent          decimal.Decimal
		DPSSavingsAccountID string
		DPSStartDate        time.Time // anchors monthly/yearly contribution days
		DPSLastRun          time.Time

		CreatedAt time.Time
	}

	// Transaction is a single ledger entry. Amount is always positive; the
	// direction is carried by Type. Transfer legs are ordinary transactions
	// whose Tags carry a correlator (see tags.go).
	Transaction struct {
		ID          string
		AccountID   string
		Type        TransactionType
		Amount      Money
		Currency    Currency // denormalized from the account at write time
		Category    string
		Date        time.Time
		Note        string
		Tags        []string
		DisplayCode string // short human-facing code, distinct from ID

		// Seq is the gateway-assigned insertion sequence, used as the stable
		// tie-break when ordering transactions that share a date.
		Seq       int64
		CreatedAt time.Time
	}

	// Transfer is a derived view: exactly one expense leg and one income leg
	// sharing a correlator. It is never persisted as its own row.
	Transfer struct {
		Correlator string
		Kind       TransferKind
		Expense    Transaction
		Income     Transaction
	}

	// DPSTransferRecord is one entry of the append-only DPS transfer log,
	// kept alongside (not instead of) the two ordinary legs.
	DPSTransferRecord struct {
		ID            string
		Correlator    string
		FromAccountID string
		ToAccountID   string
		Amount        Money
		Direction     DPSDirection
		Date          time.Time
		CreatedAt     time.Time
	}

	// SavingsGoal tracks progress toward a target amount accumulated into a
	// dedicated savings account. Overshoot past the target is allowed.
	SavingsGoal struct {
		ID               string
		Name             string
		TargetAmount     Money
		CurrentAmount    Money
		SourceAccountID  string
		SavingsAccountID string
		CreatedAt        time.Time
	}

	// DonationSavingRecord is derived once from a qualifying transaction.
	// Amount and ModeValue are frozen at derivation time; only Status may
	// change afterwards.
	DonationSavingRecord struct {
		ID            string
		TransactionID string
		Mode          AllocationMode
		ModeValue     decimal.Decimal
		Amount        Money
		Currency      Currency
		Status        AllocationStatus
		CreatedAt     time.Time
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency code")
	ErrCurrencyImmutable   = errors.New("currency immutable once transactions exist")
	ErrInvalidAccountPair  = errors.New("invalid account pair")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account inactive")
	ErrAccountInUse        = errors.New("account has transactions")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidExchangeRate = errors.New("invalid exchange rate")
	ErrAlreadyEnabled      = errors.New("dps already enabled")
	ErrNotEnabled          = errors.New("dps not enabled")
	ErrAlreadyLinked       = errors.New("savings account already linked")
	ErrAlreadyAllocated    = errors.New("transaction already allocated")
	ErrAllocationPending   = errors.New("allocation pending")
	ErrMalformedTags       = errors.New("malformed transfer tags")
	ErrEmptyName           = errors.New("empty name")
)

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	switch a.Type {
	case AccountCash, AccountBank, AccountDPS, AccountOther:
	default:
		return errors.New("invalid account type")
	}
	if err := a.Currency.Validate(); err != nil {
		return err
	}
	if a.InitialBalance.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// IsPrimaryFor reports whether a is the primary account linked to the given
// savings sub-account.
func (a Account) IsPrimaryFor(savingsAccountID string) bool {
	return a.DPSSavingsAccountID != "" && a.DPSSavingsAccountID == savingsAccountID
}

func (t Transaction) Validate() error {
	if t.AccountID == "" {
		return ErrAccountNotFound
	}
	switch t.Type {
	case Income, Expense:
	default:
		return errors.New("invalid transaction type")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Currency.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if len(t.Note) > 500 {
		return errors.New("note too long (max 500 characters)")
	}
	return nil
}

// Signed returns the amount with the sign implied by the transaction type:
// positive for income, negative for expense.
func (t Transaction) Signed() Money {
	if t.Type == Expense {
		return Money{Units: -t.Amount.Units}
	}
	return t.Amount
}

func (g SavingsGoal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if err := g.TargetAmount.Validate(); err != nil {
		return err
	}
	if g.CurrentAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if g.SourceAccountID == "" || g.SavingsAccountID == "" {
		return ErrAccountNotFound
	}
	return nil
}

func (r DonationSavingRecord) Validate() error {
	if r.TransactionID == "" {
		return errors.New("missing originating transaction")
	}
	switch r.Mode {
	case ModeFixed, ModePercent:
	default:
		return errors.New("invalid allocation mode")
	}
	switch r.Status {
	case StatusPending, StatusDonated:
	default:
		return errors.New("invalid allocation status")
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	return nil
}
