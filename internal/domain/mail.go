package domain

import "time"

// MailStatusPending marks a queued message the dispatcher has not picked up yet.
const MailStatusPending = "pending"

// MailMessage is the record handed to the external mail dispatcher.
type MailMessage struct {
	To        string
	Subject   string
	HTML      string
	Status    string
	OrderID   string
	Kind      ConfirmationKind
	CreatedAt time.Time
}
