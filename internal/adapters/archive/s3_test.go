package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/alejandrodnm/quantmarket/internal/adapters/archive"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func record() domain.MarketRecord {
	return domain.MarketRecord{
		Market: domain.Market{
			ID:       "m-1",
			Category: "Crypto",
			Status:   domain.StatusResolved,
			Outcome:  domain.SideYes,
		},
	}
}

func TestArchive_PutsJSONUnderCategory(t *testing.T) {
	fake := &fakeS3{}
	a := archive.NewWithClient(fake, "settled", "/prod/")

	require.NoError(t, a.Archive(context.Background(), record()))
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "settled", *in.Bucket)
	assert.Equal(t, "prod/markets/crypto/m-1.json", *in.Key)
	assert.Equal(t, "application/json", *in.ContentType)
	assert.Equal(t, "RESOLVED", in.Metadata["market-status"])

	var got domain.MarketRecord
	require.NoError(t, json.Unmarshal(fake.bodies[0], &got))
	assert.Equal(t, "m-1", got.Market.ID)
	assert.Equal(t, domain.SideYes, got.Market.Outcome)
}

func TestArchive_KeyWithoutCategory(t *testing.T) {
	a := archive.NewWithClient(&fakeS3{}, "b", "")
	rec := record()
	rec.Market.Category = " "
	assert.Equal(t, "markets/uncategorized/m-1.json", a.Key(rec))
}

func TestArchive_WrapsErrors(t *testing.T) {
	boom := errors.New("access denied")
	a := archive.NewWithClient(&fakeS3{err: boom}, "b", "")
	err := a.Archive(context.Background(), record())
	assert.ErrorIs(t, err, boom)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := archive.New(context.Background(), archive.Config{})
	assert.Error(t, err)
}
