// Package records holds the central user and biometric record set that
// terminals are reconciled against.
package records

import (
	"bytes"
	"context"
	"slices"
	"strconv"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=records.go Store

// Template is one enrolled fingerprint
type Template struct {
	FingerIndex int    `json:"finger_index"`
	Data        []byte `json:"data"`
}

// User is an access-control user as stored on terminals
type User struct {
	UID       int        `json:"uid"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Privilege int        `json:"privilege"`
	Password  string     `json:"password,omitempty"`
	GroupID   string     `json:"group_id,omitempty"`
	Card      int64      `json:"card,omitempty"`
	Templates []Template `json:"templates,omitempty"`
}

// Normalize fills defaults terminals apply on their side and orders templates
func (u User) Normalize() User {
	if u.UserID == "" {
		u.UserID = strconv.Itoa(u.UID)
	}
	if u.GroupID == "0" {
		u.GroupID = ""
	}
	if len(u.Templates) > 0 {
		ts := slices.Clone(u.Templates)
		slices.SortFunc(ts, func(a, b Template) int { return a.FingerIndex - b.FingerIndex })
		u.Templates = ts
	}
	return u
}

// Equal compares two users after normalization
func (u User) Equal(other User) bool {
	a, b := u.Normalize(), other.Normalize()
	if a.UID != b.UID || a.UserID != b.UserID || a.Name != b.Name ||
		a.Privilege != b.Privilege || a.Password != b.Password ||
		a.GroupID != b.GroupID || a.Card != b.Card {
		return false
	}
	return slices.EqualFunc(a.Templates, b.Templates, func(x, y Template) bool {
		return x.FingerIndex == y.FingerIndex && bytes.Equal(x.Data, y.Data)
	})
}

// TemplateCount returns the number of templates across users
func TemplateCount(users []User) int {
	n := 0
	for _, u := range users {
		n += len(u.Templates)
	}
	return n
}

// Store is the central source of truth for user records
type Store interface {
	// ListUsers returns every user ordered by uid
	ListUsers(ctx context.Context) ([]User, error)
}

// Plan lists the changes that bring a terminal in line with the central set
type Plan struct {
	Insert []User
	Update []User
	Delete []int
}

// Empty reports whether the terminal is already in sync
func (p Plan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// Reconcile computes the plan that makes onDevice match central, keyed by uid.
// Output slices are ordered by uid.
func Reconcile(central, onDevice []User) Plan {
	want := make(map[int]User, len(central))
	for _, u := range central {
		want[u.UID] = u
	}
	have := make(map[int]User, len(onDevice))
	for _, u := range onDevice {
		have[u.UID] = u
	}

	var plan Plan
	for uid, u := range want {
		existing, ok := have[uid]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, u.Normalize())
		case !existing.Equal(u):
			plan.Update = append(plan.Update, u.Normalize())
		}
	}
	for uid := range have {
		if _, ok := want[uid]; !ok {
			plan.Delete = append(plan.Delete, uid)
		}
	}

	byUID := func(a, b User) int { return a.UID - b.UID }
	slices.SortFunc(plan.Insert, byUID)
	slices.SortFunc(plan.Update, byUID)
	slices.Sort(plan.Delete)
	return plan
}
