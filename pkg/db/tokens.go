/*
 * Copyright 2025 Verdant Operations, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdantops/soilwatch/pkg/models"
)

// CreateToken records a freshly minted bootstrap token hash.
func (db *DB) CreateToken(ctx context.Context, token *models.BootstrapToken) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO bootstrap_tokens (token_hash, created_at, expires_at, max_uses)
		VALUES ($1, $2, $3, $4)`,
		token.TokenHash, token.CreatedAt, token.ExpiresAt, token.MaxUses)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap token: %w", err)
	}

	return nil
}

// ConsumeToken validates and spends one use of a bootstrap token in a
// single conditional update, so concurrent registrations can never
// overshoot max_uses.
func (db *DB) ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var usedCount int

	err := db.pool.QueryRow(ctx, `
		UPDATE bootstrap_tokens SET
			used_count = used_count + 1,
			last_used  = $2
		WHERE token_hash = $1
		  AND expires_at > $2
		  AND (max_uses IS NULL OR used_count < max_uses)
		RETURNING used_count`, tokenHash, now).Scan(&usedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("failed to consume bootstrap token: %w", err)
	}

	return true, nil
}

// ListTokens returns the ledger, newest first. Hashes stay server side;
// callers must not expose them.
func (db *DB) ListTokens(ctx context.Context) ([]models.BootstrapToken, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT token_hash, created_at, expires_at, used_count, max_uses, last_used
		FROM bootstrap_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bootstrap tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.BootstrapToken

	for rows.Next() {
		var token models.BootstrapToken

		err := rows.Scan(&token.TokenHash, &token.CreatedAt, &token.ExpiresAt,
			&token.UsedCount, &token.MaxUses, &token.LastUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bootstrap token: %w", err)
		}

		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bootstrap tokens: %w", err)
	}

	return tokens, nil
}
