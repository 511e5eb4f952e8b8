package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestListing_Clone(t *testing.T) {
	orig := Listing{
		Index:   1,
		Owner:   common.HexToAddress("0xb0b"),
		Price:   big.NewInt(100),
		Reviews: []Review{{ID: 0, AuthorMessage: "nice"}},
	}

	c := orig.Clone()
	c.Price.SetInt64(1)
	c.Reviews[0].AuthorMessage = "changed"

	if orig.Price.Int64() != 100 {
		t.Errorf("Clone shares Price: %s", orig.Price)
	}
	if orig.Reviews[0].AuthorMessage != "nice" {
		t.Errorf("Clone shares Reviews: %s", orig.Reviews[0].AuthorMessage)
	}

	empty := Listing{}.Clone()
	if empty.Price != nil || empty.Reviews != nil {
		t.Errorf("Clone of zero listing should stay zero: %+v", empty)
	}
}

func TestListing_OwnedByAndSoldOut(t *testing.T) {
	owner := common.HexToAddress("0xb0b")
	l := Listing{Owner: owner, UnitsAvailable: 0}

	if !l.OwnedBy(owner) {
		t.Error("expected OwnedBy owner")
	}
	if l.OwnedBy(common.HexToAddress("0xa11ce")) {
		t.Error("unexpected OwnedBy for other address")
	}
	if !l.SoldOut() {
		t.Error("expected SoldOut with zero units")
	}
	l.UnitsAvailable = 1
	if l.SoldOut() {
		t.Error("unexpected SoldOut with units left")
	}
}
