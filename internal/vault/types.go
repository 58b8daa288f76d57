package vault

// Credential is one record as handed across the CRUD boundary. Password
// carries either the plaintext secret or a base64 envelope; IsEncrypted
// says which. Everything else stays plaintext metadata.
type Credential struct {
	ID          string   `json:"id"`
	LoginID     string   `json:"loginId"`
	Password    string   `json:"password"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	IsEncrypted bool     `json:"isEncrypted"`
}

// FieldResult is the outcome of one record in a bulk decryption. A record
// whose field failed to decrypt keeps its ciphertext untouched and is
// reported with Decrypted=false instead of failing the batch.
type FieldResult struct {
	Credential Credential
	Decrypted  bool
}
