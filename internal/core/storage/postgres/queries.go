package postgres

// Queries for the append-only event log. The log is write-only from the
// service's perspective; reads happen in external reporting tools.

const querySaveHeist = `
	INSERT INTO heist_events (
		id, establishment, tier, success, participants, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6)
`

const querySaveSale = `
	INSERT INTO sale_events (
		id, faction, seller, items, total_price, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6)
`
