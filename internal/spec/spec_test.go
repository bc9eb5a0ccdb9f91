package spec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/mockforge-core/protocol"
)

func TestRegistry_FindOperation(t *testing.T) {
	r := New()
	r.Add(Operation{Protocol: protocol.HTTP, Method: "POST", Path: "/echo", Echo: true})

	assert.True(t, r.FindOperation(protocol.HTTP, "POST", "/echo"))
	assert.False(t, r.FindOperation(protocol.HTTP, "GET", "/echo"))
	assert.False(t, r.FindOperation(protocol.HTTP, "POST", "/missing"))
}

func TestRegistry_ValidateRequest_RequiredHeadersAndBodyFields(t *testing.T) {
	r := New()
	r.Add(Operation{
		Protocol:           protocol.HTTP,
		Method:             "POST",
		Path:               "/orders",
		RequiredHeaders:    []string{"x-api-key"},
		RequiredBodyFields: []string{"sku", "quantity"},
	})

	bad := protocol.NewRequest(protocol.HTTP, "POST", "/orders")
	bad.Body = []byte(`{"sku":"abc"}`)
	vr := r.ValidateRequest(bad)
	assert.False(t, vr.Valid)
	assert.Len(t, vr.Errors, 2) // missing header, missing quantity field

	good := protocol.NewRequest(protocol.HTTP, "POST", "/orders")
	good.SetHeader("x-api-key", "secret")
	good.Body = []byte(`{"sku":"abc","quantity":3}`)
	vr2 := r.ValidateRequest(good)
	assert.True(t, vr2.Valid)
	assert.Empty(t, vr2.Errors)
}

func TestRegistry_ValidateRequest_UnknownOperationIsValid(t *testing.T) {
	r := New()
	req := protocol.NewRequest(protocol.HTTP, "GET", "/unregistered")
	vr := r.ValidateRequest(req)
	assert.True(t, vr.Valid)
}

func TestRegistry_GenerateMockResponse_Echo(t *testing.T) {
	r := New()
	r.Add(Operation{Protocol: protocol.HTTP, Method: "POST", Path: "/echo", Echo: true, Status: 200})

	req := protocol.NewRequest(protocol.HTTP, "POST", "/echo")
	req.Body = []byte(`{"hello":"world"}`)
	resp, err := r.GenerateMockResponse(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status.HTTPCode)
	assert.JSONEq(t, `{"hello":"world"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.ContentType)
}

func TestRegistry_GenerateMockResponse_StaticBody(t *testing.T) {
	r := New()
	r.Add(Operation{
		Protocol:    protocol.HTTP,
		Method:      "GET",
		Path:        "/status",
		Status:      201,
		ContentType: "application/json",
		Headers:     map[string]string{"X-Custom": "yes"},
		Body:        []byte(`{"ok":true}`),
	})

	req := protocol.NewRequest(protocol.HTTP, "GET", "/status")
	resp, err := r.GenerateMockResponse(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status.HTTPCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	v, ok := resp.Metadata["X-Custom"]
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func TestRegistry_GenerateMockResponse_UnknownOperationErrors(t *testing.T) {
	r := New()
	req := protocol.NewRequest(protocol.HTTP, "GET", "/nope")
	_, err := r.GenerateMockResponse(context.Background(), req)
	assert.Error(t, err)
}
