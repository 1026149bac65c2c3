package services

import (
	"reflect"
	"testing"
)

func TestGetEndpointsRequestRoundTrip(t *testing.T) {
	req := GetEndpointsRequest{
		EndpointURL: "opc.tcp://host:4841/ep",
		LocaleIDs:   []string{"en-US"},
		ProfileURIs: nil,
	}
	got, err := DecodeGetEndpointsRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeGetEndpointsRequest: %v", err)
	}
	got.ProfileURIs = nil
	if !reflect.DeepEqual(req, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestGetEndpointsResponseRoundTrip(t *testing.T) {
	resp := GetEndpointsResponse{
		Endpoints: []EndpointDescription{
			{EndpointURL: "opc.tcp://host:4841/ep", SecurityPolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#None", SecurityMode: 1},
		},
	}
	got, err := DecodeGetEndpointsResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodeGetEndpointsResponse: %v", err)
	}
	if !reflect.DeepEqual(resp, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, resp)
	}
}

func TestServerHandle(t *testing.T) {
	s := Server{Endpoints: []EndpointDescription{
		{EndpointURL: "opc.tcp://host:4841/ep", SecurityPolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#None", SecurityMode: 1},
	}}
	reqBody := GetEndpointsRequest{EndpointURL: "opc.tcp://host:4841/ep"}.Encode()
	respBody, err := s.Handle(reqBody)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp, err := DecodeGetEndpointsResponse(respBody)
	if err != nil {
		t.Fatalf("DecodeGetEndpointsResponse: %v", err)
	}
	if !reflect.DeepEqual(resp.Endpoints, s.Endpoints) {
		t.Fatalf("Handle response = %+v, want %+v", resp.Endpoints, s.Endpoints)
	}
}

func TestServerHandleInvalidBody(t *testing.T) {
	s := Server{}
	if _, err := s.Handle([]byte{0xFF}); err == nil {
		t.Fatal("Handle with truncated body: want error, got nil")
	}
}
