/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package disburse

import (
	"context"
	"errors"
	"fmt"

	"github.com/blnkfinance/disburse/internal/apierror"
	"github.com/blnkfinance/disburse/model"
	"github.com/sirupsen/logrus"
)

// CredentialSource names where a partner's provider credentials were resolved from.
type CredentialSource string

const (
	CredentialSourceVault     CredentialSource = "vault"
	CredentialSourcePlaintext CredentialSource = "plaintext"
	CredentialSourceShared    CredentialSource = "shared"
)

// ErrNoCredentials is wrapped by the CREDENTIAL_ERROR returned when no credential source is usable.
var ErrNoCredentials = errors.New("no usable provider credentials")

// GetPartnerCredentials resolves the credential set used to call the provider for a partner.
// The vault ciphertext is tried first, then the legacy plaintext columns, then the shared set.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - partnerID string: The partner to resolve credentials for.
//
// Returns:
// - *model.PartnerCredentials: The plaintext credential set.
// - error: CREDENTIAL_ERROR if no source is usable.
func (d *Disburse) GetPartnerCredentials(ctx context.Context, partnerID string) (*model.PartnerCredentials, error) {
	partner, err := d.datasource.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	creds, _, err := d.resolveCredentials(partner)
	return creds, err
}

func (d *Disburse) resolveCredentials(partner *model.Partner) (*model.PartnerCredentials, CredentialSource, error) {
	logger := logrus.WithField("partner_id", partner.PartnerID)

	if partner.EncryptedCredentials != "" {
		creds, err := d.vault.Decrypt(partner.EncryptedCredentials)
		if err == nil && creds.Usable() {
			return withPartnerIdentity(creds, partner), CredentialSourceVault, nil
		}
		if err == nil {
			err = errors.New("decrypted credential set is incomplete")
		}
		logger.WithError(err).Warn("vault credentials unusable")
	}

	if d.cnf.PlaintextFallbackEnabled() {
		if plain := partner.PlaintextCredentials(); plain.Usable() {
			logger.WithField("credential_source", CredentialSourcePlaintext).
				Warn("using legacy plaintext credentials, partner should be migrated to the vault")
			return plain, CredentialSourcePlaintext, nil
		}
	}

	if partner.UseSharedCredentials {
		shared := d.cnf.SharedCredentials
		creds := &model.PartnerCredentials{
			ConsumerKey:        shared.ConsumerKey,
			ConsumerSecret:     shared.ConsumerSecret,
			SecurityCredential: shared.SecurityCredential,
			InitiatorName:      shared.InitiatorName,
			ShortCode:          shared.ShortCode,
		}
		if creds.Usable() {
			return withPartnerIdentity(creds, partner), CredentialSourceShared, nil
		}
	}

	return nil, "", apierror.NewAPIError(apierror.ErrCredential,
		fmt.Sprintf("partner %s has no usable provider credentials", partner.PartnerID), ErrNoCredentials)
}

// withPartnerIdentity fills the initiator and short code from the partner row when the credential set omits them.
func withPartnerIdentity(creds *model.PartnerCredentials, partner *model.Partner) *model.PartnerCredentials {
	if creds.InitiatorName == "" {
		creds.InitiatorName = partner.InitiatorName
	}
	if creds.ShortCode == "" {
		creds.ShortCode = partner.ShortCode
	}
	return creds
}

// StoreCredentials encrypts creds and replaces the partner's stored ciphertext.
func (d *Disburse) StoreCredentials(ctx context.Context, partnerID string, creds model.PartnerCredentials) error {
	if !creds.Usable() {
		return apierror.NewAPIError(apierror.ErrValidation, "consumer_key, consumer_secret and security_credential are required", nil)
	}
	ciphertext, err := d.vault.Encrypt(creds)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to encrypt credentials", err)
	}
	if err := d.datasource.UpdatePartnerCredentials(ctx, partnerID, ciphertext); err != nil {
		return err
	}
	logrus.WithField("partner_id", partnerID).Info("partner credentials stored in vault")
	return nil
}
