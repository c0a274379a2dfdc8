package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jvmscope/jvmscope/internal/analysis/command"
	"github.com/jvmscope/jvmscope/internal/errors"
	"github.com/jvmscope/jvmscope/internal/model"
)

// StoreClassMetadata records what the agent reported about a class. Names
// are stored in internal form so lookups match frames of either form.
func (d *Database) StoreClassMetadata(ctx context.Context, jvm model.AgentJVM, meta model.ClassMetadata) error {
	signatures := meta.Signatures
	if signatures == nil {
		signatures = map[string][]string{}
	}
	encoded, err := json.Marshal(signatures)
	if err != nil {
		return fmt.Errorf("failed to encode signatures of %s: %w", meta.ClassName, err)
	}
	row := &classMetadataRow{
		JVM:         jvm.String(),
		ClassName:   model.InternalClassName(meta.ClassName),
		Blacklisted: meta.Blacklisted,
		Signatures:  string(encoded),
		UpdatedAt:   d.now(),
	}
	if err := d.classes.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to store class metadata %s: %w", meta.ClassName, err)
	}
	if len(signatures) > 0 || meta.Blacklisted {
		return d.resolveClassInfo(ctx, jvm, row.ClassName)
	}
	return nil
}

// resolveClassInfo removes className from the undelivered class-info
// requests of jvm. Requests left without classes are dropped.
func (d *Database) resolveClassInfo(ctx context.Context, jvm model.AgentJVM, className string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(d.logger, tx)

	rows, err := d.commands.With(tx).Find(ctx, d.commands.Query().
		Eq("jvm", jvm.String()).
		Eq("feature", command.FeatureClassInfo.String()).
		Where("delivered_at IS NULL"))
	if err != nil {
		return err
	}

	resolved := 0
	for _, r := range rows {
		cmd, err := command.Decode([]byte(r.Payload))
		if err != nil {
			return fmt.Errorf("failed to decode command %s: %w", r.ID, err)
		}
		if _, ok := cmd.MissingSignatures[className]; !ok {
			continue
		}
		resolved++
		delete(cmd.MissingSignatures, className)
		if len(cmd.MissingSignatures) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM agent_commands WHERE id = ?`, r.ID); err != nil {
				return fmt.Errorf("failed to drop resolved request %s: %w", r.ID, err)
			}
			continue
		}
		payload, err := cmd.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode command %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE agent_commands SET payload = ? WHERE id = ?`, string(payload), r.ID); err != nil {
			return fmt.Errorf("failed to update request %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit class info resolution: %w", err)
	}
	if resolved > 0 {
		d.logger.Debug().
			Str("agent_jvm", jvm.String()).
			Str("class", className).
			Int("requests", resolved).
			Msg("Resolved class info requests")
	}
	return nil
}

// FetchClassMetadata returns the stored metadata of className, or nil when
// the agent never reported it.
func (d *Database) FetchClassMetadata(ctx context.Context, jvm model.AgentJVM, className string) (*model.ClassMetadata, error) {
	rows, err := d.classes.Find(ctx, d.classes.Query().
		Eq("jvm", jvm.String()).
		Eq("class_name", model.InternalClassName(className)).
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	meta := &model.ClassMetadata{ClassName: className, Blacklisted: r.Blacklisted}
	if err := json.Unmarshal([]byte(r.Signatures), &meta.Signatures); err != nil {
		return nil, fmt.Errorf("failed to decode signatures of %s: %w", r.ClassName, err)
	}
	return meta, nil
}

// Blacklist excludes className from instrumentation for every JVM of the
// account.
func (d *Database) Blacklist(ctx context.Context, accountID, className, reason string) error {
	if accountID == "" || className == "" {
		return fmt.Errorf("account and class name are required")
	}
	row := &blacklistRow{
		AccountID: accountID,
		ClassName: model.InternalClassName(className),
		Reason:    reason,
		CreatedAt: d.now(),
	}
	if err := d.blacklist.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", className, err)
	}
	d.logger.Info().
		Str("account_id", accountID).
		Str("class", row.ClassName).
		Str("reason", reason).
		Msg("Class blacklisted")
	return nil
}

// FetchBlacklistedClasses returns the classes blacklisted for the account
// of jvm, in the dotted form stack frames use.
func (d *Database) FetchBlacklistedClasses(ctx context.Context, jvm model.AgentJVM) (map[string]struct{}, error) {
	rows, err := d.blacklist.Find(ctx, d.blacklist.Query().Eq("account_id", jvm.AccountID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		out[strings.ReplaceAll(r.ClassName, "/", ".")] = struct{}{}
	}
	return out, nil
}
