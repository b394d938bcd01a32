package push

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/pkg/redis"
)

// encrypt is the application server side of aes128gcm, used to produce deliveries.
func encrypt(t *testing.T, uaPub *ecdh.PublicKey, authSecret, plaintext []byte, rs uint32) []byte {
	t.Helper()

	asPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	shared, err := asPriv.ECDH(uaPub)
	require.NoError(t, err)

	salt := make([]byte, saltSize)
	_, err = rand.Read(salt)
	require.NoError(t, err)

	// The key info always lists the user agent key first.
	keyInfo := append([]byte("WebPush: info\x00"), uaPub.Bytes()...)
	keyInfo = append(keyInfo, asPriv.PublicKey().Bytes()...)
	ikm := mustExpand(t, extract(shared, authSecret), keyInfo, 32)
	prk := extract(ikm, salt)
	cek := mustExpand(t, prk, []byte("Content-Encoding: aes128gcm\x00"), keySize)
	nonce := mustExpand(t, prk, []byte("Content-Encoding: nonce\x00"), nonceSize)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	var out bytes.Buffer
	out.Write(salt)
	require.NoError(t, binary.Write(&out, binary.BigEndian, rs))
	asPub := asPriv.PublicKey().Bytes()
	out.WriteByte(byte(len(asPub)))
	out.Write(asPub)

	chunk := int(rs) - tagSize - 1
	for seq := uint64(0); ; seq++ {
		n := chunk
		last := len(plaintext) <= n
		if last {
			n = len(plaintext)
		}
		record := append([]byte{}, plaintext[:n]...)
		plaintext = plaintext[n:]
		if last {
			record = append(record, 2)
		} else {
			record = append(record, 1)
		}
		out.Write(gcm.Seal(nil, recordNonce(nonce, seq), record, nil))
		if last {
			break
		}
	}
	return out.Bytes()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecrypt_SingleRecord(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	body := encrypt(t, keys.Private.PublicKey(), keys.AuthSecret, []byte(`{"title":"Новый материал","body":"Сказки"}`), 4096)

	plain, err := Decrypt(keys, body)
	require.NoError(t, err)

	msg, err := ParseMessage(plain)
	require.NoError(t, err)
	assert.Equal(t, "Новый материал", msg.Title)
	assert.Equal(t, "Сказки", msg.Body)
}

func TestDecrypt_MultipleRecords(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("abcdefgh"), 20)
	body := encrypt(t, keys.Private.PublicKey(), keys.AuthSecret, payload, 50)

	plain, err := Decrypt(keys, body)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	other, err := GenerateKeys()
	require.NoError(t, err)

	body := encrypt(t, keys.Private.PublicKey(), keys.AuthSecret, []byte("hi"), 4096)
	_, err = Decrypt(other, body)
	require.Error(t, err)
}

func TestDecrypt_Truncated(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	_, err = Decrypt(keys, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeApplicationServerKey(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	pub := keys.Private.PublicKey().Bytes()

	raw, err := DecodeApplicationServerKey(encodeKey(pub))
	require.NoError(t, err)
	assert.Len(t, raw, 65)
	assert.Equal(t, pub, raw)

	padded, err := DecodeApplicationServerKey(encodeKey(pub) + "=")
	require.NoError(t, err)
	assert.Equal(t, pub, padded)

	_, err = DecodeApplicationServerKey("c2hvcnQ")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseMessage_PlainText(t *testing.T) {
	msg, err := ParseMessage([]byte("просто текст"))
	require.NoError(t, err)
	assert.Equal(t, "просто текст", msg.Body)

	_, err = ParseMessage([]byte("{broken"))
	require.Error(t, err)
}

type fakeBackend struct {
	subscribed   []api.PushSubscription
	unsubscribed []string
	err          error
}

func (f *fakeBackend) PushSubscribe(ctx context.Context, token string, sub api.PushSubscription) error {
	if f.err != nil {
		return f.err
	}
	f.subscribed = append(f.subscribed, sub)
	return nil
}

func (f *fakeBackend) PushUnsubscribe(ctx context.Context, token, endpoint string) error {
	if f.err != nil {
		return f.err
	}
	f.unsubscribed = append(f.unsubscribed, endpoint)
	return nil
}

func newTestService(t *testing.T, backend Backend) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	keys, err := GenerateKeys()
	require.NoError(t, err)

	svc, err := NewService(backend, NewStore(redis.Wrap(client)), "https://bot.example.com/", encodeKey(keys.Private.PublicKey().Bytes()), testLogger())
	require.NoError(t, err)
	return svc
}

func TestService_SubscribeReceiveUnsubscribe(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	svc := newTestService(t, backend)
	require.True(t, svc.Enabled())

	rec, err := svc.Subscribe(ctx, "tok", 42)
	require.NoError(t, err)
	require.Len(t, backend.subscribed, 1)
	assert.Equal(t, "https://bot.example.com/push/receive/"+rec.EndpointID, backend.subscribed[0].Endpoint)
	assert.Equal(t, rec.Keys.P256dh(), backend.subscribed[0].Keys.P256dh)

	again, err := svc.Subscribe(ctx, "tok", 42)
	require.NoError(t, err)
	assert.Equal(t, rec.EndpointID, again.EndpointID)
	assert.Len(t, backend.subscribed, 1)

	body := encrypt(t, rec.Keys.Private.PublicKey(), rec.Keys.AuthSecret, []byte(`{"title":"T","body":"B","url":"/library"}`), 4096)
	owner, msg, err := svc.Receive(ctx, rec.EndpointID, body)
	require.NoError(t, err)
	assert.Equal(t, int64(42), owner)
	assert.Equal(t, "/library", msg.URL)

	require.NoError(t, svc.Unsubscribe(ctx, "tok", 42))
	assert.Equal(t, []string{rec.Endpoint}, backend.unsubscribed)

	ok, err := svc.Subscribed(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = svc.Receive(ctx, rec.EndpointID, body)
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestService_SubscribeBackendFailureDropsRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &fakeBackend{err: errors.New("down")})

	_, err := svc.Subscribe(ctx, "tok", 7)
	require.Error(t, err)

	ok, err := svc.Subscribed(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_DisabledWithoutKey(t *testing.T) {
	svc, err := NewService(&fakeBackend{}, nil, "https://bot.example.com", "", testLogger())
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	_, err = svc.Subscribe(context.Background(), "tok", 1)
	require.Error(t, err)
}
