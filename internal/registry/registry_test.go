package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/document"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/storage"
)

// blockingLedger never answers until its context is done.
type blockingLedger struct{}

func (blockingLedger) Register(ctx context.Context, _, _ string) (model.LedgerReceipt, error) {
	<-ctx.Done()
	return model.LedgerReceipt{}, ctx.Err()
}

func (blockingLedger) Resolve(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// rejectingLedger answers but never commits.
type rejectingLedger struct{ storage.Ledger }

func (rejectingLedger) Register(context.Context, string, string) (model.LedgerReceipt, error) {
	return model.LedgerReceipt{Committed: false}, nil
}

type failingPinger struct{ blockingLedger }

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newDocument(t *testing.T) (did.Identifier, model.DIDDocument) {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	id, err := did.Derive(kp.PublicKey)
	require.NoError(t, err)
	enc, err := keys.EncodePublicKey(kp.PublicKey)
	require.NoError(t, err)
	return id, document.Create(id, enc, []model.Service{{"id": id.String() + "#agent", "type": "AgentService", "serviceEndpoint": "https://agent.example"}})
}

func TestRegisterThenResolve(t *testing.T) {
	c := New(storage.NewMemory())
	ctx := context.Background()
	id, doc := newDocument(t)

	ok, err := c.Register(ctx, id, doc)
	require.NoError(t, err)
	require.True(t, ok)

	got, found, err := c.Resolve(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, doc, got)
}

func TestResolveKeepsIntegersExact(t *testing.T) {
	c := New(storage.NewMemory())
	ctx := context.Background()

	kp, err := keys.Generate()
	require.NoError(t, err)
	id, err := did.Derive(kp.PublicKey)
	require.NoError(t, err)
	enc, err := keys.EncodePublicKey(kp.PublicKey)
	require.NoError(t, err)
	doc := document.Create(id, enc, []model.Service{{
		"id":              id.String() + "#agent",
		"type":            "AgentService",
		"serviceEndpoint": "https://agent.example",
		"serial":          json.Number("9007199254740993"),
		"port":            json.Number("8443"),
	}})
	sig, err := document.Sign(doc, kp.PrivateKey)
	require.NoError(t, err)

	ok, err := c.Register(ctx, id, doc)
	require.NoError(t, err)
	require.True(t, ok)

	got, found, err := c.Resolve(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, doc, got)
	assert.Equal(t, json.Number("9007199254740993"), got.Service[0]["serial"])
	assert.True(t, document.Verify(got, sig))
}

func TestResolveVerifiesDocumentSignedWithNativeIntegers(t *testing.T) {
	c := New(storage.NewMemory())
	ctx := context.Background()

	kp, err := keys.Generate()
	require.NoError(t, err)
	id, err := did.Derive(kp.PublicKey)
	require.NoError(t, err)
	enc, err := keys.EncodePublicKey(kp.PublicKey)
	require.NoError(t, err)
	doc := document.Create(id, enc, []model.Service{{"id": id.String() + "#agent", "serial": int64(9007199254740993)}})
	sig, err := document.Sign(doc, kp.PrivateKey)
	require.NoError(t, err)

	ok, err := c.Register(ctx, id, doc)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := c.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), got.Service[0]["serial"])
	assert.True(t, document.Verify(got, sig))
}

func TestRegisterTwiceIsIdempotent(t *testing.T) {
	c := New(storage.NewMemory())
	ctx := context.Background()
	id, doc := newDocument(t)

	for i := 0; i < 2; i++ {
		ok, err := c.Register(ctx, id, doc)
		require.NoError(t, err)
		require.True(t, ok)
	}
	got, found, err := c.Resolve(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, doc, got)
}

func TestResolveMissing(t *testing.T) {
	c := New(storage.NewMemory())
	id, _ := newDocument(t)

	got, found, err := c.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, model.DIDDocument{}, got)
}

func TestRegisterMismatchedID(t *testing.T) {
	c := New(storage.NewMemory())
	id, _ := newDocument(t)
	_, other := newDocument(t)

	ok, err := c.Register(context.Background(), id, other)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestRegisterRejected(t *testing.T) {
	c := New(rejectingLedger{})
	id, doc := newDocument(t)

	ok, err := c.Register(context.Background(), id, doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeoutIsUnavailable(t *testing.T) {
	c := New(blockingLedger{}, WithTimeout(20*time.Millisecond))
	id, doc := newDocument(t)

	start := time.Now()
	ok, err := c.Register(context.Background(), id, doc)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, found, err := c.Resolve(context.Background(), id)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPing(t *testing.T) {
	require.NoError(t, New(blockingLedger{}).Ping(context.Background()))
	assert.ErrorIs(t, New(failingPinger{}).Ping(context.Background()), ErrUnavailable)
}
