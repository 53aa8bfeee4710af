package security

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type for this endpoint")
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeDevice  TokenType = "device"
	TokenTypeService TokenType = "service"
)

const (
	audienceAPI     = "api-access"
	audienceDevice  = "device-events"
	audienceGateway = "device-gateway"
)

// UserClaims are carried by app user access tokens.
type UserClaims struct {
	UserID int32     `json:"user_id"`
	Type   TokenType `json:"type"`
	Roles  []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// DeviceClaims are carried by tokens of the hardware channel: inbound event
// callbacks (Type device) and our own outbound gateway calls (Type service).
type DeviceClaims struct {
	Type          TokenType `json:"type"`
	StationSerial string    `json:"station_serial,omitempty"`
	jwt.RegisteredClaims
}

type TokenManager interface {
	GenerateAccessToken(userID int32, roles []string) (string, error)
	ValidateToken(tokenString string) (*UserClaims, error)

	GenerateDeviceToken(subject string) (string, error)
	ValidateDeviceToken(tokenString string) (*DeviceClaims, error)
	// ServiceToken is presented to the device gateway on dispense calls.
	ServiceToken() (string, error)
}

type tokenManager struct {
	secret       []byte
	deviceSecret []byte
	issuer       string
	serviceID    string
	accessTTL    time.Duration
}

func NewTokenManager(secret, deviceSecret, issuer, serviceID string, accessTTL time.Duration) TokenManager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &tokenManager{
		secret:       []byte(secret),
		deviceSecret: []byte(deviceSecret),
		issuer:       issuer,
		serviceID:    serviceID,
		accessTTL:    accessTTL,
	}
}

func (m *tokenManager) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
	}
}

func (m *tokenManager) GenerateAccessToken(userID int32, roles []string) (string, error) {
	claims := UserClaims{
		UserID:           userID,
		Type:             TokenTypeAccess,
		Roles:            roles,
		RegisteredClaims: m.registered(strconv.Itoa(int(userID)), audienceAPI, m.accessTTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := parse(tokenString, claims, m.secret, audienceAPI); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	if claims.UserID == 0 && claims.Subject != "" {
		uid, _ := strconv.Atoi(claims.Subject)
		claims.UserID = int32(uid)
	}
	return claims, nil
}

// AllStations is the device token subject of the gateway itself, allowed to
// report events for any station.
const AllStations = "*"

// GenerateDeviceToken issues a long-lived token for the hardware channel to
// call our event endpoints. subject is a station serial or AllStations.
func (m *tokenManager) GenerateDeviceToken(subject string) (string, error) {
	station := subject
	if subject == AllStations {
		station = ""
	}
	claims := DeviceClaims{
		Type:             TokenTypeDevice,
		StationSerial:    station,
		RegisteredClaims: m.registered(subject, audienceDevice, 365*24*time.Hour),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.deviceSecret)
}

func (m *tokenManager) ValidateDeviceToken(tokenString string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	if err := parse(tokenString, claims, m.deviceSecret, audienceDevice); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeDevice {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (m *tokenManager) ServiceToken() (string, error) {
	claims := DeviceClaims{
		Type:             TokenTypeService,
		RegisteredClaims: m.registered(m.serviceID, audienceGateway, 5*time.Minute),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.deviceSecret)
}

func parse(tokenString string, claims jwt.Claims, secret []byte, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithAudience(audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
