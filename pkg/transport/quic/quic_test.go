package quic

import (
    "testing"

    "simlink/pkg/transport"
)

func TestNewCarriesServerCertificate(t *testing.T) {
    tr, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    if tr.Kind() != transport.KindQUIC {
        t.Fatalf("kind = %s", tr.Kind())
    }
    if len(tr.tlsConf.Certificates) != 1 || len(tr.tlsConf.Certificates[0].Certificate) == 0 {
        t.Fatal("transport has no usable server certificate")
    }
}

func TestSelfSignedCert(t *testing.T) {
    cert, err := selfSignedCert()
    if err != nil {
        t.Fatalf("self signed cert: %v", err)
    }
    if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
        t.Fatal("incomplete certificate")
    }
}
