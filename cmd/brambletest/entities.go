package main

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/dekarrin/rezi/v2"
	"github.com/google/uuid"
	"github.com/kettleside/bramble"
	"github.com/kettleside/bramble/sqlite"
)

// User is an account in the test store, keyed by a generated UUID.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

func (u User) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(u.ID)...)
	enc = append(enc, rezi.MustEnc(u.Username)...)
	enc = append(enc, rezi.MustEnc(u.Email)...)

	return enc, nil
}

func (u *User) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded User

	// id
	err = rr.Dec(&decoded.ID)
	if err != nil {
		return rezi.Wrapf(0, "id: %s", err)
	}

	// username
	err = rr.Dec(&decoded.Username)
	if err != nil {
		return rezi.Wrapf(0, "username: %s", err)
	}

	// email
	err = rr.Dec(&decoded.Email)
	if err != nil {
		return rezi.Wrapf(0, "email: %s", err)
	}

	*u = decoded

	return nil
}

// Order is a line-item purchase placed by a User, keyed by a sequential
// int64.
type Order struct {
	ID       int64     `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Item     string    `json:"item"`
	Quantity int       `json:"quantity"`
}

func (o Order) MarshalBinary() ([]byte, error) {
	var enc []byte

	enc = append(enc, rezi.MustEnc(o.ID)...)
	enc = append(enc, rezi.MustEnc(o.UserID)...)
	enc = append(enc, rezi.MustEnc(o.Item)...)
	enc = append(enc, rezi.MustEnc(o.Quantity)...)

	return enc, nil
}

func (o *Order) UnmarshalBinary(data []byte) error {
	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return err
	}

	var decoded Order

	// id
	err = rr.Dec(&decoded.ID)
	if err != nil {
		return rezi.Wrapf(0, "id: %s", err)
	}

	// user id
	err = rr.Dec(&decoded.UserID)
	if err != nil {
		return rezi.Wrapf(0, "user id: %s", err)
	}

	// item
	err = rr.Dec(&decoded.Item)
	if err != nil {
		return rezi.Wrapf(0, "item: %s", err)
	}

	// quantity
	err = rr.Dec(&decoded.Quantity)
	if err != nil {
		return rezi.Wrapf(0, "quantity: %s", err)
	}

	*o = decoded

	return nil
}

// orderKeySeq hands out process-unique order IDs. Seeding off the clock
// keeps IDs from colliding with ones persisted by a prior run.
var orderKeySeq = time.Now().UnixNano()

func nextOrderKey() int64 {
	return atomic.AddInt64(&orderKeySeq, 1)
}

func userDef() bramble.EntityDef {
	return bramble.Entity[User, uuid.UUID]{
		Key:    func(u User) uuid.UUID { return u.ID },
		SetKey: func(u User, k uuid.UUID) User { u.ID = k; return u },
		NewKey: uuid.New,
		Encode: func(u User) ([]byte, error) { return u.MarshalBinary() },
		Decode: func(data []byte) (User, error) {
			var u User
			err := u.UnmarshalBinary(data)
			return u, err
		},
	}.Def()
}

func orderDef() bramble.EntityDef {
	return bramble.Entity[Order, int64]{
		Key:    func(o Order) int64 { return o.ID },
		SetKey: func(o Order, k int64) Order { o.ID = k; return o },
		NewKey: nextOrderKey,
		Encode: func(o Order) ([]byte, error) { return o.MarshalBinary() },
		Decode: func(data []byte) (Order, error) {
			var o Order
			err := o.UnmarshalBinary(data)
			return o, err
		},
	}.Def()
}

func storeDescriptor() bramble.Descriptor {
	return bramble.Descriptor{
		Name: "brambletest",
		Collections: []bramble.CollectionDef{
			bramble.CollectionOf[User](userDef()),
			bramble.CollectionOf[Order](orderDef()),
		},
	}
}

func storeTables() []sqlite.Table {
	return []sqlite.Table{
		{
			Entity:  "User",
			Name:    "users",
			Columns: []string{"id", "username", "email"},
			Schema: `CREATE TABLE IF NOT EXISTS users (
				id TEXT NOT NULL PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL
			);`,
			Scan: func(scan func(dest ...any) error) (any, error) {
				var u User
				var id string
				if err := scan(&id, &u.Username, &u.Email); err != nil {
					return nil, err
				}
				parsed, err := uuid.Parse(id)
				if err != nil {
					return nil, err
				}
				u.ID = parsed
				return u, nil
			},
			Args: func(e any) ([]any, error) {
				u := e.(User)
				return []any{u.ID.String(), u.Username, u.Email}, nil
			},
		},
		{
			Entity:  "Order",
			Name:    "orders",
			Columns: []string{"id", "user_id", "item", "quantity"},
			Schema: `CREATE TABLE IF NOT EXISTS orders (
				id INTEGER NOT NULL PRIMARY KEY,
				user_id TEXT NOT NULL,
				item TEXT NOT NULL,
				quantity INTEGER NOT NULL
			);`,
			Scan: func(scan func(dest ...any) error) (any, error) {
				var o Order
				var userID string
				if err := scan(&o.ID, &userID, &o.Item, &o.Quantity); err != nil {
					return nil, err
				}
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return nil, err
				}
				o.UserID = parsed
				return o, nil
			},
			Args: func(e any) ([]any, error) {
				o := e.(Order)
				return []any{o.ID, o.UserID.String(), o.Item, o.Quantity}, nil
			},
		},
	}
}
