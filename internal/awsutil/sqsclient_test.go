package awsutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	assert.Len(t, loadOptions("us-east-1", ""), 1)
	assert.Len(t, loadOptions("us-east-1", "http://localhost:4566"), 2)
}

func TestNewSQSClientLocalstack(t *testing.T) {
	c, err := NewSQSClient(context.Background(), "us-east-1", "http://localhost:4566")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", *c.Options().BaseEndpoint)
	assert.Equal(t, "us-east-1", c.Options().Region)
}
