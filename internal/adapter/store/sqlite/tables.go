package sqlite

import (
	"fmt"
)

// erasureTable declares one table removed during an erasure. Parents names
// the tables its foreign keys point at; Delete removes the user's rows and
// takes the user id as its single argument.
type erasureTable struct {
	Name    string
	Parents []string
	Delete  string
}

const ownedCases = `SELECT id FROM cases WHERE user_id = ?`

// erasureTables is every table holding user data. To add a child table,
// declare it here with its parents; the deletion order follows.
// audit_logs and consents are deliberately absent.
var erasureTables = []erasureTable{
	{
		Name:    "event_evidence",
		Parents: []string{"timeline_events", "evidence"},
		Delete: `WITH owned AS (` + ownedCases + `)
			DELETE FROM event_evidence
			WHERE event_id IN (SELECT id FROM timeline_events WHERE case_id IN (SELECT id FROM owned))
			   OR evidence_id IN (SELECT id FROM evidence WHERE case_id IN (SELECT id FROM owned))`,
	},
	{Name: "timeline_events", Parents: []string{"cases"}, Delete: `DELETE FROM timeline_events WHERE case_id IN (` + ownedCases + `)`},
	{Name: "case_facts", Parents: []string{"cases"}, Delete: `DELETE FROM case_facts WHERE case_id IN (` + ownedCases + `)`},
	{Name: "legal_issues", Parents: []string{"cases"}, Delete: `DELETE FROM legal_issues WHERE case_id IN (` + ownedCases + `)`},
	{Name: "actions", Parents: []string{"cases"}, Delete: `DELETE FROM actions WHERE case_id IN (` + ownedCases + `)`},
	{Name: "notes", Parents: []string{"cases"}, Delete: `DELETE FROM notes WHERE case_id IN (` + ownedCases + `)`},
	{Name: "evidence", Parents: []string{"cases"}, Delete: `DELETE FROM evidence WHERE case_id IN (` + ownedCases + `)`},
	{
		Name:    "chat_messages",
		Parents: []string{"chat_conversations"},
		Delete:  `DELETE FROM chat_messages WHERE conversation_id IN (SELECT id FROM chat_conversations WHERE user_id = ?)`,
	},
	{Name: "chat_conversations", Parents: []string{"users", "cases"}, Delete: `DELETE FROM chat_conversations WHERE user_id = ?`},
	{Name: "cases", Parents: []string{"users"}, Delete: `DELETE FROM cases WHERE user_id = ?`},
	// user_facts.case_id is not a foreign key, so cases may go first.
	{Name: "user_facts", Parents: []string{"users"}, Delete: `DELETE FROM user_facts WHERE user_id = ?`},
	{Name: "sessions", Parents: []string{"users"}, Delete: `DELETE FROM sessions WHERE user_id = ?`},
	{Name: "users", Delete: `DELETE FROM users WHERE id = ?`},
}

// erasureOrder sorts tables so every table comes before all of its parents.
// Among tables that are ready at the same time, the earliest declared wins,
// which keeps the order stable.
func erasureOrder(tables []erasureTable) ([]erasureTable, error) {
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		if _, dup := index[t.Name]; dup {
			return nil, fmt.Errorf("erasure plan: table %q declared twice", t.Name)
		}
		index[t.Name] = i
	}

	// pending[i] counts children of table i not yet ordered.
	pending := make([]int, len(tables))
	for _, t := range tables {
		for _, p := range t.Parents {
			pi, ok := index[p]
			if !ok {
				return nil, fmt.Errorf("erasure plan: %q references unknown parent %q", t.Name, p)
			}
			if p == t.Name {
				return nil, fmt.Errorf("erasure plan: %q references itself", t.Name)
			}
			pending[pi]++
		}
	}

	done := make([]bool, len(tables))
	order := make([]erasureTable, 0, len(tables))
	for len(order) < len(tables) {
		next := -1
		for i := range tables {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("erasure plan: dependency cycle among remaining tables")
		}
		done[next] = true
		order = append(order, tables[next])
		for _, p := range tables[next].Parents {
			pending[index[p]]--
		}
	}
	return order, nil
}
