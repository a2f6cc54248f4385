package signing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// KeyMaterial is the centralized party's half of the threshold key: the
// relayer never holds a full signing key, only the share and public
// output the MPC protocol was set up with.
type KeyMaterial struct {
	SecretKeyShare []byte
	PublicOutput   []byte
}

type keyMaterialFile struct {
	SecretKeyShare string `json:"secretKeyShare"` // base64
	PublicOutput   string `json:"publicOutput"`   // base64
}

// LoadKeyMaterial reads the signer key file named by config's
// SignerKeyFile: a small JSON document holding the base64-encoded key
// share and public output, kept out of the main Config struct so it
// never round-trips through a log line or a TOML dump. When
// encryptionSeedHex (Config.EncryptionSeedHex) is non-empty, the file on
// disk is expected to be secretbox-sealed under it and is decrypted
// before parsing; an empty seed means the file is plain JSON, for local
// development.
func LoadKeyMaterial(path, encryptionSeedHex string) (KeyMaterial, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("signing: reading key file: %w", err)
	}
	if encryptionSeedHex != "" {
		raw, err = openSealed(encryptionSeedHex, raw)
		if err != nil {
			return KeyMaterial{}, err
		}
	}
	var f keyMaterialFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return KeyMaterial{}, fmt.Errorf("signing: decoding key file: %w", err)
	}
	share, err := base64.StdEncoding.DecodeString(f.SecretKeyShare)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("signing: decoding secretKeyShare: %w", err)
	}
	output, err := base64.StdEncoding.DecodeString(f.PublicOutput)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("signing: decoding publicOutput: %w", err)
	}
	if len(share) == 0 || len(output) == 0 {
		return KeyMaterial{}, fmt.Errorf("signing: key file is missing secretKeyShare or publicOutput")
	}
	return KeyMaterial{SecretKeyShare: share, PublicOutput: output}, nil
}

// SealKeyMaterial marshals km and encrypts it under encryptionSeedHex,
// producing the bytes LoadKeyMaterial expects on disk. It is the write
// side of that format, kept next to the reader; nothing in the daemon
// itself calls it.
func SealKeyMaterial(encryptionSeedHex string, km KeyMaterial) ([]byte, error) {
	plaintext, err := json.Marshal(keyMaterialFile{
		SecretKeyShare: base64.StdEncoding.EncodeToString(km.SecretKeyShare),
		PublicOutput:   base64.StdEncoding.EncodeToString(km.PublicOutput),
	})
	if err != nil {
		return nil, fmt.Errorf("signing: encoding key material: %w", err)
	}
	return sealKeyMaterial(encryptionSeedHex, plaintext)
}
