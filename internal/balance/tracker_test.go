package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celo-carmarket/internal/domain"
)

type fakeReader struct {
	breakdown domain.BalanceBreakdown
	err       error
	asked     common.Address
}

func (f *fakeReader) TotalBalance(_ context.Context, identity common.Address) (domain.BalanceBreakdown, error) {
	f.asked = identity
	return f.breakdown, f.err
}

func TestTracker_Refresh(t *testing.T) {
	units, _ := new(big.Int).SetString("2500000000000000000", 10)
	r := &fakeReader{breakdown: domain.BalanceBreakdown{
		Native: big.NewInt(1),
		Token:  units,
	}}
	id := common.HexToAddress("0xa11ce")

	tr := NewTracker(0)
	bal, err := tr.Refresh(context.Background(), r, id)
	require.NoError(t, err)

	assert.Equal(t, id, r.asked)
	assert.Equal(t, "2.50", bal.Display)
	assert.Equal(t, 0, bal.BaseUnits.Cmp(units))

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "2.50", cur.Display)
}

func TestTracker_Rounding(t *testing.T) {
	tests := []struct {
		units string
		want  string
	}{
		{"0", "0.00"},
		{"1", "0.00"},
		{"4999999999999999", "0.00"},
		{"5000000000000000", "0.01"},
		{"1234567890000000000000", "1234.57"},
	}

	for _, tt := range tests {
		units, _ := new(big.Int).SetString(tt.units, 10)
		bal, err := NewTracker(18).Refresh(context.Background(),
			&fakeReader{breakdown: domain.BalanceBreakdown{Token: units}}, common.Address{})
		require.NoError(t, err)
		assert.Equal(t, tt.want, bal.Display, tt.units)
	}
}

func TestTracker_ErrorKeepsPrevious(t *testing.T) {
	tr := NewTracker(18)
	_, err := tr.Refresh(context.Background(),
		&fakeReader{breakdown: domain.BalanceBreakdown{Token: big.NewInt(1e18)}}, common.Address{})
	require.NoError(t, err)

	boom := errors.New("rpc down")
	_, err = tr.Refresh(context.Background(), &fakeReader{err: boom}, common.Address{})
	assert.ErrorIs(t, err, boom)

	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "1.00", cur.Display)

	tr.Reset()
	_, ok = tr.Current()
	assert.False(t, ok)
}
