package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// emptyCharacterID is reserved for participations that play no character,
// for example directors.
const emptyCharacterID = 1

// BuildCharactersToCharacterAndCharacterTables decodes every distinct
// title_principals.characters JSON literal exactly once, interning the
// character names into the character table and recording the (literal,
// ordering, character id) explosion in characters_to_character. The same
// literal reappears on many principal rows, which is why the decode result
// is persisted instead of recomputed per row.
func (b *Builder) BuildCharactersToCharacterAndCharacterTables(ctx context.Context) error {
	b.logger.Info("building table", "table", TableCharactersToCharacter)

	rows, err := b.db.QueryContext(ctx, `
		SELECT DISTINCT "characters" FROM "title_principals" WHERE "characters" IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("querying distinct characters: %w", err)
	}
	type charactersLiteral struct {
		literal string
		names   []string
	}
	var literals []charactersLiteral
	for rows.Next() {
		var literal string
		if err := rows.Scan(&literal); err != nil {
			rows.Close()
			return err
		}
		var names []string
		if err := json.Unmarshal([]byte(literal), &names); err != nil {
			rows.Close()
			return fmt.Errorf("cannot JSON parse title_principals.characters %q: %w", literal, err)
		}
		literals = append(literals, charactersLiteral{literal: literal, names: names})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	characterNameToID := map[string]int64{"": emptyCharacterID}
	nextCharacterID := int64(emptyCharacterID)
	for _, literal := range literals {
		for _, name := range literal.names {
			if _, ok := characterNameToID[name]; !ok {
				nextCharacterID++
				characterNameToID[name] = nextCharacterID
			}
		}
	}

	// The character table goes first so the explosion rows never point at
	// characters that are not there yet.
	b.logger.Info("building table", "table", TableCharacter)
	err = b.inTransaction(ctx, TableCharacter, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, TableCharacter,
			[]string{"id", "name"}, b.bulkSize, b.logger)
		for characterName, characterID := range characterNameToID {
			if err := bulk.Add(ctx, []any{characterID, characterName}); err != nil {
				return err
			}
		}
		return bulk.Close(ctx)
	})
	if err != nil {
		return err
	}

	return b.inTransaction(ctx, TableCharactersToCharacter, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, TableCharactersToCharacter,
			[]string{"characters", "ordering", "character_id"}, b.bulkSize, b.logger)
		for _, literal := range literals {
			for i, characterName := range literal.names {
				if err := bulk.Add(ctx, []any{literal.literal, i + 1, characterNameToID[characterName]}); err != nil {
					return err
				}
			}
		}
		return bulk.Close(ctx)
	})
}

// BuildParticipationToCharacterTable joins each participation back to its
// title_principals source row and through characters_to_character to the
// interned characters. DISTINCT guards against duplicate (participation,
// ordering) pairs that can arise when the joins collapse.
func (b *Builder) BuildParticipationToCharacterTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableParticipationToCharacter)
	err := b.inTransaction(ctx, TableParticipationToCharacter, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "participation_to_character" ("participation_id", "ordering", "character_id")
			SELECT DISTINCT pa."id", cc."ordering", cc."character_id"
			FROM "participation" pa
			JOIN "name" n ON n."id" = pa."name_id"
			JOIN "title" t ON t."id" = pa."title_id"
			JOIN "title_principals" p
				ON p."nconst" = n."nconst"
				AND p."tconst" = t."tconst"
				AND p."ordering" = pa."ordering"
			JOIN "characters_to_character" cc ON cc."characters" = p."characters"
			JOIN "profession" pr ON pr."name" = p."category"`)
		return err
	})
	if err != nil {
		return err
	}
	return b.checkTableHasData(ctx, TableParticipationToCharacter, true)
}
