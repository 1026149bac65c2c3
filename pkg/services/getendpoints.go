// Package services supplies the one application-service pair spec.md's
// scenario S1 exercises as a MSG body — GetEndpoints — so the rest of
// this core has something concrete to carry end-to-end. Per spec.md's
// explicit non-goal, the core itself never implements application
// services: this package is demo/test plumbing an application built on
// top of pkg/dispatcher would replace with its own service set.
package services

import "github.com/systerel/s2opc-go/pkg/wire"

// GetEndpointsRequest asks a server which endpoints it exposes at
// EndpointURL.
type GetEndpointsRequest struct {
	EndpointURL string
	// LocaleIDs and ProfileURIs are accepted on the wire for
	// compatibility with a real GetEndpointsRequest but this core never
	// filters on them: Server.Handle always returns every endpoint a
	// Server was configured with.
	LocaleIDs   []string
	ProfileURIs []string
}

// EndpointDescription describes one endpoint a server exposes.
type EndpointDescription struct {
	EndpointURL       string
	SecurityPolicyURI string
	SecurityMode      uint32
}

// GetEndpointsResponse answers a GetEndpointsRequest.
type GetEndpointsResponse struct {
	Endpoints []EndpointDescription
}

// Encode writes req as a MSG body: a flat, this-core-only encoding (not
// byte-compatible with the real OPC UA GetEndpointsRequest's
// ExtensionObject envelope, which pkg/wire's NodeId/ExtensionObject
// support could express but this demo layer does not need to).
func (req GetEndpointsRequest) Encode() []byte {
	w := wire.NewWriter()
	w.WriteString(req.EndpointURL)
	w.WriteUInt32(uint32(len(req.LocaleIDs)))
	for _, l := range req.LocaleIDs {
		w.WriteString(l)
	}
	w.WriteUInt32(uint32(len(req.ProfileURIs)))
	for _, p := range req.ProfileURIs {
		w.WriteString(p)
	}
	return w.Bytes()
}

// DecodeGetEndpointsRequest parses the body Encode produced.
func DecodeGetEndpointsRequest(body []byte) (GetEndpointsRequest, error) {
	r := wire.NewReader(body)
	var req GetEndpointsRequest
	var err error
	if req.EndpointURL, err = r.ReadString(); err != nil {
		return GetEndpointsRequest{}, err
	}
	nLocales, err := r.ReadUInt32()
	if err != nil {
		return GetEndpointsRequest{}, err
	}
	req.LocaleIDs = make([]string, nLocales)
	for i := range req.LocaleIDs {
		if req.LocaleIDs[i], err = r.ReadString(); err != nil {
			return GetEndpointsRequest{}, err
		}
	}
	nProfiles, err := r.ReadUInt32()
	if err != nil {
		return GetEndpointsRequest{}, err
	}
	req.ProfileURIs = make([]string, nProfiles)
	for i := range req.ProfileURIs {
		if req.ProfileURIs[i], err = r.ReadString(); err != nil {
			return GetEndpointsRequest{}, err
		}
	}
	return req, nil
}

// Encode writes resp as a MSG body.
func (resp GetEndpointsResponse) Encode() []byte {
	w := wire.NewWriter()
	w.WriteUInt32(uint32(len(resp.Endpoints)))
	for _, e := range resp.Endpoints {
		w.WriteString(e.EndpointURL)
		w.WriteString(e.SecurityPolicyURI)
		w.WriteUInt32(e.SecurityMode)
	}
	return w.Bytes()
}

// DecodeGetEndpointsResponse parses the body Encode produced.
func DecodeGetEndpointsResponse(body []byte) (GetEndpointsResponse, error) {
	r := wire.NewReader(body)
	n, err := r.ReadUInt32()
	if err != nil {
		return GetEndpointsResponse{}, err
	}
	resp := GetEndpointsResponse{Endpoints: make([]EndpointDescription, n)}
	for i := range resp.Endpoints {
		e := &resp.Endpoints[i]
		if e.EndpointURL, err = r.ReadString(); err != nil {
			return GetEndpointsResponse{}, err
		}
		if e.SecurityPolicyURI, err = r.ReadString(); err != nil {
			return GetEndpointsResponse{}, err
		}
		if e.SecurityMode, err = r.ReadUInt32(); err != nil {
			return GetEndpointsResponse{}, err
		}
	}
	return resp, nil
}

// Server answers GetEndpointsRequest bodies with a fixed endpoint list;
// it has no other responsibility, per the non-goal noted at the package
// doc.
type Server struct {
	Endpoints []EndpointDescription
}

// Handle decodes req and returns the encoded response body listing
// every configured endpoint; EndpointURL is not matched against them.
func (s Server) Handle(reqBody []byte) ([]byte, error) {
	if _, err := DecodeGetEndpointsRequest(reqBody); err != nil {
		return nil, err
	}
	return GetEndpointsResponse{Endpoints: s.Endpoints}.Encode(), nil
}
