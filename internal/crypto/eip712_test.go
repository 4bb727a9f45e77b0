package crypto

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testDomain = NewDomain(137, common.HexToAddress("0x2C9c47E7d254e493f02acfB410864b9a86c28e1D"))

func testCreateOffer(maker common.Address) domain.SignedOffer {
	return domain.SignedOffer{
		Kind: domain.OfferKindCreateContingentPool,
		Create: &domain.OfferCreateContingentPool{
			Maker:                  maker,
			MakerCollateralAmount:  big.NewInt(20_000_000),
			TakerCollateralAmount:  big.NewInt(80_000_000),
			MakerIsLong:            true,
			OfferExpiry:            1_700_000_000,
			MinimumTakerFillAmount: big.NewInt(60_000_000),
			ReferenceAsset:         "ETH/USD",
			ExpiryTime:             1_700_086_400,
			Floor:                  big.NewInt(1_000),
			Inflection:             big.NewInt(2_000),
			Cap:                    big.NewInt(3_000),
			Gradient:               big.NewInt(500_000),
			CollateralToken:        common.HexToAddress("0x00000000000000000000000000000000000000c0"),
			DataProvider:           common.HexToAddress("0x00000000000000000000000000000000000000d0"),
			Capacity:               big.NewInt(1_000_000_000),
			Salt:                   big.NewInt(42),
		},
	}
}

func testAddOffer(maker common.Address) domain.SignedOffer {
	return domain.SignedOffer{
		Kind: domain.OfferKindAddLiquidity,
		AddLiquidity: &domain.OfferAddLiquidity{
			Maker:                  maker,
			Taker:                  common.HexToAddress("0x00000000000000000000000000000000000000b0"),
			MakerCollateralAmount:  big.NewInt(10),
			TakerCollateralAmount:  big.NewInt(30),
			OfferExpiry:            1_700_000_000,
			MinimumTakerFillAmount: big.NewInt(1),
			PoolID:                 common.HexToHash("0xabc"),
			Salt:                   big.NewInt(7),
		},
	}
}

func testRemoveOffer(maker common.Address) domain.SignedOffer {
	return domain.SignedOffer{
		Kind: domain.OfferKindRemoveLiquidity,
		RemoveLiquidity: &domain.OfferRemoveLiquidity{
			Maker:                  maker,
			PositionTokenAmount:    big.NewInt(50),
			MakerCollateralAmount:  big.NewInt(20),
			MakerIsLong:            true,
			OfferExpiry:            1_700_000_000,
			MinimumTakerFillAmount: big.NewInt(5),
			PoolID:                 common.HexToHash("0xdef"),
			Salt:                   big.NewInt(9),
		},
	}
}

func TestDomain_HashMatchesTypedData(t *testing.T) {
	maker := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	for _, o := range []domain.SignedOffer{testCreateOffer(maker), testAddOffer(maker), testRemoveOffer(maker)} {
		t.Run(string(o.Kind), func(t *testing.T) {
			want, err := testDomain.HashOffer(o)
			require.NoError(t, err)

			td, err := testDomain.TypedData(o)
			require.NoError(t, err)
			got, _, err := apitypes.TypedDataAndHash(td)
			require.NoError(t, err)

			assert.Equal(t, want.Bytes(), got)
		})
	}
}

func TestDomain_SeparatorDependsOnChainAndContract(t *testing.T) {
	other := NewDomain(1, testDomain.VerifyingContract)
	assert.NotEqual(t, testDomain.Separator(), other.Separator())

	other = NewDomain(testDomain.ChainID, common.HexToAddress("0x01"))
	assert.NotEqual(t, testDomain.Separator(), other.Separator())
}

func TestSigner_SignAndVerify(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)

	o := testCreateOffer(s.Address())
	require.NoError(t, s.SignOffer(testDomain, &o))
	assert.Contains(t, []uint8{27, 28}, o.Signature.V)

	digest, err := VerifyOffer(testDomain, o)
	require.NoError(t, err)
	assert.Equal(t, o.OfferHash, digest)

	recovered, err := RecoverSigner(digest, o.Signature)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestSigner_RejectsForeignMaker(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	o := testAddOffer(common.HexToAddress("0x01"))
	assert.ErrorIs(t, s.SignOffer(testDomain, &o), domain.ErrNotMaker)
}

func TestVerifyOffer_SignatureBinding(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	mutations := map[string]func(c *domain.OfferCreateContingentPool){
		"taker":                  func(c *domain.OfferCreateContingentPool) { c.Taker = common.HexToAddress("0x02") },
		"makerCollateralAmount":  func(c *domain.OfferCreateContingentPool) { c.MakerCollateralAmount = big.NewInt(20_000_001) },
		"takerCollateralAmount":  func(c *domain.OfferCreateContingentPool) { c.TakerCollateralAmount = big.NewInt(79_999_999) },
		"makerIsLong":            func(c *domain.OfferCreateContingentPool) { c.MakerIsLong = false },
		"offerExpiry":            func(c *domain.OfferCreateContingentPool) { c.OfferExpiry++ },
		"minimumTakerFillAmount": func(c *domain.OfferCreateContingentPool) { c.MinimumTakerFillAmount = big.NewInt(0) },
		"referenceAsset":         func(c *domain.OfferCreateContingentPool) { c.ReferenceAsset = "BTC/USD" },
		"expiryTime":             func(c *domain.OfferCreateContingentPool) { c.ExpiryTime-- },
		"floor":                  func(c *domain.OfferCreateContingentPool) { c.Floor = big.NewInt(999) },
		"inflection":             func(c *domain.OfferCreateContingentPool) { c.Inflection = big.NewInt(2_001) },
		"cap":                    func(c *domain.OfferCreateContingentPool) { c.Cap = big.NewInt(3_001) },
		"gradient":               func(c *domain.OfferCreateContingentPool) { c.Gradient = big.NewInt(400_000) },
		"collateralToken":        func(c *domain.OfferCreateContingentPool) { c.CollateralToken = common.HexToAddress("0x03") },
		"dataProvider":           func(c *domain.OfferCreateContingentPool) { c.DataProvider = common.HexToAddress("0x04") },
		"capacity":               func(c *domain.OfferCreateContingentPool) { c.Capacity = big.NewInt(1) },
		"permissionedERC721Token": func(c *domain.OfferCreateContingentPool) {
			c.PermissionedERC721Token = common.HexToAddress("0x05")
		},
		"salt": func(c *domain.OfferCreateContingentPool) { c.Salt = big.NewInt(43) },
	}

	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			o := testCreateOffer(s.Address())
			require.NoError(t, s.SignOffer(testDomain, &o))

			mutated := *o.Create
			mutate(&mutated)
			o.Create = &mutated

			digest, err := testDomain.HashOffer(o)
			require.NoError(t, err)
			assert.NotEqual(t, o.OfferHash, digest)

			recovered, err := RecoverSigner(digest, o.Signature)
			if err == nil {
				assert.NotEqual(t, s.Address(), recovered)
			}
			assert.ErrorIs(t, VerifySignature(digest, o.Signature, s.Address()), domain.ErrInvalidSignature)
		})
	}
}

func TestVerifyOffer_Rejects(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	signed := func() domain.SignedOffer {
		o := testRemoveOffer(s.Address())
		require.NoError(t, s.SignOffer(testDomain, &o))
		return o
	}

	t.Run("other domain", func(t *testing.T) {
		_, err := VerifyOffer(NewDomain(1, testDomain.VerifyingContract), signed())
		assert.ErrorIs(t, err, domain.ErrDomainMismatch)
	})

	t.Run("stale hash", func(t *testing.T) {
		o := signed()
		o.OfferHash = common.HexToHash("0x01")
		_, err := VerifyOffer(testDomain, o)
		assert.ErrorIs(t, err, domain.ErrOfferHashMismatch)
	})

	t.Run("bad recovery id", func(t *testing.T) {
		o := signed()
		o.Signature.V = 1
		_, err := VerifyOffer(testDomain, o)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("high s", func(t *testing.T) {
		o := signed()
		n := ethcrypto.S256().Params().N
		s := new(big.Int).Sub(n, new(big.Int).SetBytes(o.Signature.S.Bytes()))
		o.Signature.S = common.BigToHash(s)
		o.Signature.V = 55 - o.Signature.V
		_, err := VerifyOffer(testDomain, o)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("zero signature", func(t *testing.T) {
		o := signed()
		o.Signature = domain.Signature{V: 27}
		_, err := VerifyOffer(testDomain, o)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestKeyFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maker.json")
	require.NoError(t, WriteEncryptedKey(path, "0x"+testKey, "hunter2"))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)

	raw, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, testKey, raw)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestDomain_HashRejectsAmountsBeyondUint256(t *testing.T) {
	wrap := new(big.Int).Lsh(big.NewInt(1), 256)
	maxWord := new(big.Int).Sub(wrap, big.NewInt(1))

	o := testAddOffer(common.HexToAddress("0x00000000000000000000000000000000000000a0"))
	o.AddLiquidity.TakerCollateralAmount = maxWord
	_, err := testDomain.HashOffer(o)
	require.NoError(t, err, "2^256-1 is the largest uint256")

	o.AddLiquidity.TakerCollateralAmount = new(big.Int).Add(big.NewInt(30), wrap)
	_, err = testDomain.HashOffer(o)
	assert.ErrorIs(t, err, domain.ErrInvalidInputParams)

	c := testCreateOffer(common.HexToAddress("0x00000000000000000000000000000000000000a0"))
	c.Create.Floor = big.NewInt(-1)
	_, err = testDomain.HashOffer(c)
	assert.ErrorIs(t, err, domain.ErrInvalidInputParams)
}
