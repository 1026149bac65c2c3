package securechannel

import (
	"crypto/sha1"
	"crypto/x509"
	"time"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// HandleOpenRequest is the server-side counterpart of IssueOpenRequest:
// it decodes an inbound asymmetric OPN chunk, allocates a channel-id
// and token (first issue) or renews the current token, and returns the
// OPN response chunk to send. ScInit -> Connected on first issue;
// Connected -> Connected on renew (the client alone visits ScRenewing).
func (c *SecureChannel) HandleOpenRequest(raw []byte, allocateChannelID func() uint32, allocateTokenID func() uint32, serverNonce []byte, serverCert []byte) ([]byte, error) {
	c.mu.Lock()
	firstIssue := c.state == StateScInit
	if !firstIssue && c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrOpenOutsideHandshake
	}
	c.mu.Unlock()

	dc, err := chunk.DecodeChunk(chunk.InboundRequest{Raw: raw, Capability: c.capability, Mode: c.mode}, c.negotiatedOrLocal())
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(dc.Body)
	clientNonce, err := r.ReadByteString()
	if err != nil {
		return nil, err
	}
	lifetimeMs, err := r.ReadUInt32()
	if err != nil {
		return nil, err
	}
	lifetime := time.Duration(lifetimeMs) * time.Millisecond

	var channelID uint32
	if firstIssue {
		channelID = allocateChannelID()
	}
	tokenID := allocateTokenID()

	if err := c.validatePeerCertificate(dc.AsymmetricHdr.SenderCertificate); err != nil {
		return nil, err
	}
	thumbprint := sha1Thumbprint(dc.AsymmetricHdr.SenderCertificate)
	if _, err := c.CompleteOpen(tokenID, lifetime, clientNonce, serverNonce, thumbprint, channelID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	localChannelID := c.localChannelID
	c.mu.Unlock()

	body := wire.NewWriter()
	body.WriteUInt32(localChannelID)
	body.WriteString(c.policyURI)
	body.WriteByteString(serverNonce)
	body.WriteUInt32(tokenID)
	body.WriteUInt32(uint32(lifetime / time.Millisecond))

	req := chunk.OutboundRequest{
		MessageType:      wire.MessageTypeOpen,
		ChannelID:        localChannelID,
		RequestID:        dc.Sequence.RequestID,
		Body:             body.Bytes(),
		Mode:             c.mode,
		Capability:       c.capability,
		Asymmetric:       true,
		AsymmetricHeader: wire.AsymmetricSecurityHeader{SecurityPolicyURI: c.policyURI, SenderCertificate: serverCert},
		NextSequenceNumber: c.nextSeq(),
	}
	chunks, err := chunk.EncodeOutbound(req, c.negotiatedOrLocal())
	if err != nil {
		return nil, err
	}
	return chunks[0], nil
}

// HandleOpenResponse is the client-side counterpart: it decodes the
// server's OPN response and installs the resulting token via
// CompleteOpen, moving ScConnecting/ScRenewing -> Connected.
func (c *SecureChannel) HandleOpenResponse(raw []byte, clientNonce []byte) error {
	dc, err := chunk.DecodeChunk(chunk.InboundRequest{Raw: raw, Capability: c.capability, Mode: c.mode}, c.negotiatedOrLocal())
	if err != nil {
		return err
	}
	r := wire.NewReader(dc.Body)
	channelID, err := r.ReadUInt32()
	if err != nil {
		return err
	}
	if _, err := r.ReadString(); err != nil { // security policy echoed back, unused by the client
		return err
	}
	serverNonce, err := r.ReadByteString()
	if err != nil {
		return err
	}
	tokenID, err := r.ReadUInt32()
	if err != nil {
		return err
	}
	lifetimeMs, err := r.ReadUInt32()
	if err != nil {
		return err
	}
	if err := c.validatePeerCertificate(dc.AsymmetricHdr.SenderCertificate); err != nil {
		return err
	}
	thumbprint := sha1Thumbprint(dc.AsymmetricHdr.SenderCertificate)
	_, err = c.CompleteOpen(tokenID, time.Duration(lifetimeMs)*time.Millisecond, clientNonce, serverNonce, thumbprint, channelID)
	return err
}

// validatePeerCertificate performs the channel FSM's "verify client/server
// cert" transition action (spec.md §4.3) when TrustedRoots is configured.
// A nil TrustedRoots (the default) means trust-on-first-use: only the
// thumbprint is pinned, matching crypto.ValidateCertificate's own
// contract, and preserving every existing None-policy channel that
// never sets TrustedRoots and exchanges non-DER placeholder certs in
// tests.
func (c *SecureChannel) validatePeerCertificate(certDER []byte) error {
	c.mu.Lock()
	roots := c.trustedRoots
	c.mu.Unlock()
	if roots == nil {
		return nil
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return newError(ErrCertificateUntrusted.code, "parse peer certificate: "+err.Error())
	}
	if err := crypto.ValidateCertificate(cert, roots); err != nil {
		return ErrCertificateUntrusted
	}
	return nil
}

// sha1Thumbprint computes the certificate thumbprint as defined by the
// OPC UA Connection Protocol: the SHA-1 digest of the DER-encoded
// certificate.
func sha1Thumbprint(cert []byte) []byte {
	if len(cert) == 0 {
		return nil
	}
	sum := sha1.Sum(cert)
	return sum[:]
}
