package signer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Roles a keyfile can be generated for.
const (
	RoleUpdater = "updater"
	RoleWatcher = "watcher"
)

type keyData struct {
	Role             string
	IdString         string
	PrivateKeyString string
	PublicKeyString  string
}

func GenerateKeyFile(fileLocation, role string) (*LocalSigner, error) {
	if role != RoleUpdater && role != RoleWatcher {
		return nil, errors.Errorf("unknown key role %q", role)
	}
	log.Info("Generating secp256k1 KeyPair for role ", role)

	s, err := GenerateLocalSigner()
	if err != nil {
		return nil, err
	}
	key := keyData{
		Role:             role,
		IdString:         s.Address().Hex(),
		PrivateKeyString: hex.EncodeToString(s.PrivateKeyBytes()),
		PublicKeyString:  hex.EncodeToString(s.PublicKeyBytes()),
	}

	log.Info("Address after generating KeyPair: ", key.IdString)

	encodedJson, err := json.MarshalIndent(&key, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encode keyfile")
	}
	if err := ioutil.WriteFile(fileLocation, encodedJson, 0600); err != nil {
		return nil, errors.Wrap(err, "write keyfile")
	}

	log.Info("Successfully written keyfile ", fileLocation)
	return s, nil
}

// VerifyKeyFile checks the stored public key and address derive from the stored private key.
func VerifyKeyFile(fileLocation string) (string, error) {
	key, s, err := readKeyFile(fileLocation)
	if err != nil {
		return "", err
	}
	pub, err := hex.DecodeString(key.PublicKeyString)
	if err != nil {
		return "", errors.Wrap(err, "decode public key")
	}
	if !bytes.Equal(pub, s.PublicKeyBytes()) {
		return "", errors.New("public key does not match private key")
	}
	if key.IdString != s.Address().Hex() {
		return "", errors.Errorf("address %s does not match private key (%s)", key.IdString, s.Address())
	}
	log.Info("Keyfile ", fileLocation, " verified for role ", key.Role, ", address ", key.IdString)
	return key.Role, nil
}

// LoadKeyFile reads a keyfile generated for role.
func LoadKeyFile(fileLocation, role string) (*LocalSigner, error) {
	key, s, err := readKeyFile(fileLocation)
	if err != nil {
		return nil, err
	}
	if key.Role != role {
		return nil, errors.Errorf("keyfile %s holds a %s key, want %s", fileLocation, key.Role, role)
	}
	log.Info("Connector assumes for all ", role, " signatures henceforth the address: ", s.Address())
	return s, nil
}

func readKeyFile(fileLocation string) (keyData, *LocalSigner, error) {
	var key keyData
	byteValue, err := ioutil.ReadFile(fileLocation)
	if err != nil {
		return key, nil, errors.Wrap(err, "read keyfile")
	}
	if err := json.Unmarshal(byteValue, &key); err != nil {
		return key, nil, errors.Wrap(err, "decode keyfile")
	}
	priv, err := hex.DecodeString(key.PrivateKeyString)
	if err != nil {
		return key, nil, errors.Wrap(err, "decode private key")
	}
	s, err := LocalSignerFromBytes(priv)
	return key, s, err
}
