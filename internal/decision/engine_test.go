package decision

import (
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContract(strike, yesBid, yesAsk float64, expiresIn time.Duration) domain.Contract {
	return domain.Contract{
		Ticker:     "BTC-TEST",
		Asset:      "BTC",
		Shape:      domain.ShapeGreater,
		Strike:     strike,
		Expiration: time.Now().Add(expiresIn),
		YesBid:     yesBid,
		YesAsk:     yesAsk,
		NoBid:      1 - yesAsk,
		NoAsk:      1 - yesBid,
		Liquidity:  10000,
		FetchedAt:  time.Now(),
	}
}

func testInputs(refPrice, sigma float64) Inputs {
	return Inputs{
		Ref: domain.RefPrice{
			Asset:      "BTC",
			Price:      refPrice,
			Venues:     3,
			ObservedAt: time.Now(),
		},
		Sigma:  sigma,
		Now:    time.Now(),
		Params: domain.DefaultTradingParams(),
	}
}

func TestEvaluate_RecommendationRespectsThresholds(t *testing.T) {
	e := New(DefaultConfig())

	// Spot well above strike, cheap YES ask → large YES edge.
	c := testContract(64000, 0.55, 0.58, 6*time.Hour)
	in := testInputs(66000, 0.45)

	sig := e.Evaluate(c, in)
	require.NotNil(t, sig.Rec, "large edge should produce a recommendation, rejections: yes=%v no=%v",
		sig.Yes.Rejections, sig.No.Rejections)
	assert.Equal(t, domain.SideYes, sig.Rec.Side)

	// Any recommendation satisfies the effective-edge minimum and price band.
	_, best, ok := sig.Best()
	require.True(t, ok)
	assert.GreaterOrEqual(t, best.EffectiveBps, in.Params.MinEdgeBps)
	assert.GreaterOrEqual(t, sig.Rec.Price, DefaultConfig().MinPrice)
	assert.LessOrEqual(t, sig.Rec.Price, DefaultConfig().MaxPrice)
}

func TestEvaluate_FairValueMarketHasNoRecommendation(t *testing.T) {
	e := New(DefaultConfig())
	in := testInputs(65000, 0.5)

	// Quotes pinned at the model's own fair value → no edge anywhere.
	c := testContract(65000, 0.48, 0.52, 6*time.Hour)
	fair, ok := domain.FairProb(c, 65000, 0.5, time.Now())
	require.True(t, ok)
	c.YesBid, c.YesAsk = fair-0.01, fair+0.01
	c.NoBid, c.NoAsk = 1-c.YesAsk, 1-c.YesBid

	sig := e.Evaluate(c, in)
	assert.Nil(t, sig.Rec)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectEdgeTooSmall)
	assert.Contains(t, sig.No.Rejections, domain.RejectEdgeTooSmall)
}

func TestEvaluate_FiltersRecordedIndependently(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)

	// Thin, wide, near-expiry contract: several filters fail at once.
	c := testContract(64000, 0.40, 0.58, 20*time.Minute)
	c.Liquidity = 10
	in := testInputs(66000, 0.45)

	sig := e.Evaluate(c, in)
	require.Nil(t, sig.Rec)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectExpiryTooClose)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectLowLiquidity)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectWideSpread)
}

func TestEvaluate_RegimeFilters(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)

	c := testContract(64000, 0.55, 0.58, 6*time.Hour)
	in := testInputs(66000, 0.45)
	in.FundingOK = true
	in.Funding = cfg.MaxFundingAbs * 3
	in.VolAnomaly = cfg.MaxVolAnomaly + 1
	in.Ref.MaxStaleness = cfg.MaxRefStaleness + time.Second

	sig := e.Evaluate(c, in)
	require.Nil(t, sig.Rec)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectFundingRegime)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectVolAnomaly)
	assert.Contains(t, sig.Yes.Rejections, domain.RejectStaleReference)
}

func TestEvaluate_UnpricableContract(t *testing.T) {
	e := New(DefaultConfig())
	c := testContract(64000, 0.55, 0.58, 6*time.Hour)
	in := testInputs(0, 0.45) // no usable reference price

	sig := e.Evaluate(c, in)
	require.Nil(t, sig.Rec)
	assert.Equal(t, []domain.RejectReason{domain.RejectModelUnpriced}, sig.Yes.Rejections)
	assert.Equal(t, []domain.RejectReason{domain.RejectModelUnpriced}, sig.No.Rejections)
}

func TestBlend_PosteriorBetweenPriorAndMid(t *testing.T) {
	e := New(DefaultConfig())
	c := testContract(64000, 0.40, 0.44, 6*time.Hour)
	in := testInputs(66000, 0.45)

	sig := e.Evaluate(c, in)
	mid := c.MidFor(domain.SideYes)

	lo, hi := sig.FairYes, mid
	if lo > hi {
		lo, hi = hi, lo
	}
	assert.GreaterOrEqual(t, sig.PosteriorYes, lo)
	assert.LessOrEqual(t, sig.PosteriorYes, hi)
	assert.Greater(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestBlend_DisabledIsIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlendEnabled = false
	e := New(cfg)

	c := testContract(64000, 0.40, 0.44, 6*time.Hour)
	sig := e.Evaluate(c, testInputs(66000, 0.45))
	assert.Equal(t, sig.FairYes, sig.PosteriorYes)
	assert.Equal(t, 1.0, sig.Confidence)
}

func TestEvaluate_EdgeBpsDefinition(t *testing.T) {
	// edge_bps = (fair - ask) × 10,000 exactly.
	e := New(DefaultConfig())
	c := testContract(64000, 0.55, 0.58, 6*time.Hour)
	in := testInputs(66000, 0.45)

	sig := e.Evaluate(c, in)
	assert.InDelta(t, (sig.FairYes-0.58)*10000, sig.Yes.EdgeBps, 1e-9)
	assert.InDelta(t, ((1-sig.FairYes)-c.NoAsk)*10000, sig.No.EdgeBps, 1e-9)
	assert.InDelta(t, sig.Yes.EdgeBps-in.Params.BufferBps, sig.Yes.EffectiveBps, 1e-9)
}
