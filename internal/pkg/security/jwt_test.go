package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	req := require.New(t)
	SetSecret("test-secret")

	token, err := GenerateToken(42, []string{"user"})
	req.NoError(err)

	claims, err := ValidateToken(token)
	req.NoError(err)
	req.Equal(uint64(42), claims.UserID)
	req.Equal(JWTIssuer, claims.Issuer)
}

func TestValidateToken_Rejects_Wrong_Secret(t *testing.T) {
	req := require.New(t)
	SetSecret("secret-a")
	token, err := GenerateToken(1, nil)
	req.NoError(err)

	SetSecret("secret-b")
	_, err = ValidateToken(token)
	req.Error(err)
}

func TestValidateToken_Rejects_Expired(t *testing.T) {
	req := require.New(t)
	SetSecret("test-secret")

	claims := &UserClaims{
		UserID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	req.NoError(err)

	_, err = ValidateToken(token)
	req.Error(err)
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)

	req.Equal("abc", BearerToken("Bearer abc"))
	req.Equal("abc", BearerToken("bearer  abc"))
	req.Empty(BearerToken("abc"))
	req.Empty(BearerToken("Basic abc"))
	req.Empty(BearerToken(""))
}

func TestExtractSignature(t *testing.T) {
	req := require.New(t)

	sig, err := ExtractSignature("a.b.c")
	req.NoError(err)
	req.Equal("c", sig)

	_, err = ExtractSignature("a.b")
	req.Error(err)
}
