package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"chatmirror/chat"
	"chatmirror/models"
)

// Self-introduction patterns mined from message text. The leading phrase is
// matched case-insensitively; the captured name must be capitalized.
var selfIntroRe = regexp.MustCompile(`(?:(?i:my name is|i am|i'm|this is))\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2})\b`)

// Role keywords that raise heuristic confidence when they appear near a
// self-introduction.
var roleKeywords = []string{
	"manager", "engineer", "developer", "designer", "recruiter",
	"director", "analyst", "consultant", "accountant", "administrator",
}

// IdentityResolver maps opaque sender identifiers to human identities with a
// confidence score. Resolution never silently downgrades: a record at manual
// confidence (100) is only changed by an explicit revert or re-mapping.
type IdentityResolver struct {
	db     *gorm.DB
	source chat.Source
	logger *log.Logger
}

func NewIdentityResolver(db *gorm.DB, source chat.Source, logger *log.Logger) *IdentityResolver {
	return &IdentityResolver{db: db, source: source, logger: logger}
}

// Resolve produces the best identity for senderID, trying the directory
// first, then a heuristic over the sender's recent message texts, then the
// neutral fallback. Each step is independent; a failing directory call only
// means the next step decides.
func (r *IdentityResolver) Resolve(ctx context.Context, senderID string, recentTexts []string) (*models.SenderIdentity, error) {
	if senderID == "" {
		return nil, fmt.Errorf("empty sender identifier")
	}

	existing, err := r.load(senderID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Confidence >= models.ConfidenceManual {
		// Manual mappings are authoritative.
		return existing, nil
	}

	if ident := r.tryDirectory(ctx, senderID); ident != nil {
		if existing == nil || existing.Confidence < models.ConfidenceDirectory {
			return r.apply(existing, senderID, ident.DisplayName, ident.Email,
				models.ConfidenceDirectory, models.ResolutionDirectory, r.employeeByEmail(ident.Email))
		}
		return existing, nil
	}

	if name, confidence := heuristicName(recentTexts); name != "" {
		// Heuristic results never overwrite a record that is already more
		// trusted.
		if existing == nil || existing.Confidence < confidence {
			return r.apply(existing, senderID, name, "", confidence, models.ResolutionHeuristic, nil)
		}
		return existing, nil
	}

	if existing != nil {
		return existing, nil
	}
	return r.createFallback(senderID)
}

// Lookup returns the stored identity for senderID without resolving anything,
// or nil when none exists.
func (r *IdentityResolver) Lookup(senderID string) (*models.SenderIdentity, error) {
	return r.load(senderID)
}

// MapManual records an operator-supplied mapping at full confidence and
// propagates it to every cached participant row.
func (r *IdentityResolver) MapManual(senderID, displayName, email string, employeeID *uint) (*models.SenderIdentity, error) {
	existing, err := r.load(senderID)
	if err != nil {
		return nil, err
	}
	return r.apply(existing, senderID, displayName, email, models.ConfidenceManual, models.ResolutionManual, employeeID)
}

// Revert resets a possibly mis-resolved identity to the neutral fallback:
// fallback name and email, confidence back under the fallback cap, employee
// link cleared. The identity row and every Participant row referencing the
// identifier update in one transaction, so all references stay consistent.
// Returns the number of participant rows rewritten.
func (r *IdentityResolver) Revert(senderID string) (int, error) {
	name, email := fallbackIdentity(senderID)

	var affected int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SenderIdentity{}).Where("sender_id = ?", senderID).
			Updates(map[string]interface{}{
				"display_name": name,
				"email":        email,
				"confidence":   fallbackConfidence,
				"method":       models.ResolutionUnresolved,
				"employee_id":  nil,
				"resolved_at":  nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		part := tx.Model(&models.Participant{}).Where("sender_id = ?", senderID).
			Updates(map[string]interface{}{
				"display_name": name,
				"email":        email,
			})
		if part.Error != nil {
			return part.Error
		}
		affected = part.RowsAffected
		return nil
	})
	return int(affected), err
}

const fallbackConfidence = 20

func (r *IdentityResolver) load(senderID string) (*models.SenderIdentity, error) {
	var ident models.SenderIdentity
	err := r.db.Where("sender_id = ?", senderID).First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *IdentityResolver) tryDirectory(ctx context.Context, senderID string) *chat.RawIdentity {
	if r.source == nil {
		return nil
	}
	ident, err := r.source.ResolveIdentity(ctx, senderID)
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			r.logger.Printf("Directory lookup failed for %s: %v", senderID, err)
		}
		return nil
	}
	if ident == nil || (ident.DisplayName == "" && ident.Email == "") {
		return nil
	}
	return ident
}

func (r *IdentityResolver) employeeByEmail(email string) *uint {
	if email == "" {
		return nil
	}
	var emp models.Employee
	if err := r.db.Where("email = ? AND active = ?", email, true).First(&emp).Error; err != nil {
		return nil
	}
	return &emp.ID
}

// apply upserts the identity row and propagates the cached name/email to
// every participant row for the identifier, transactionally per identifier.
func (r *IdentityResolver) apply(existing *models.SenderIdentity, senderID, displayName, email string, confidence int, method string, employeeID *uint) (*models.SenderIdentity, error) {
	now := time.Now()
	var out models.SenderIdentity
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if existing == nil {
			out = models.SenderIdentity{
				SenderID:    senderID,
				DisplayName: displayName,
				Email:       email,
				Confidence:  confidence,
				Method:      method,
				EmployeeID:  employeeID,
				ResolvedAt:  &now,
			}
			if err := tx.Create(&out).Error; err != nil {
				return err
			}
		} else {
			updates := map[string]interface{}{
				"display_name": displayName,
				"confidence":   confidence,
				"method":       method,
				"resolved_at":  now,
			}
			if email != "" {
				updates["email"] = email
			}
			if employeeID != nil {
				updates["employee_id"] = *employeeID
			}
			if err := tx.Model(existing).Updates(updates).Error; err != nil {
				return err
			}
			out = *existing
			out.DisplayName = displayName
			if email != "" {
				out.Email = email
			}
			out.Confidence = confidence
			out.Method = method
		}

		partUpdates := map[string]interface{}{"display_name": displayName}
		if email != "" {
			partUpdates["email"] = email
		}
		return tx.Model(&models.Participant{}).Where("sender_id = ?", senderID).
			Updates(partUpdates).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *IdentityResolver) createFallback(senderID string) (*models.SenderIdentity, error) {
	name, email := fallbackIdentity(senderID)
	ident := models.SenderIdentity{
		SenderID:    senderID,
		DisplayName: name,
		Email:       email,
		Confidence:  fallbackConfidence,
		Method:      models.ResolutionUnresolved,
	}
	if err := r.db.Create(&ident).Error; err != nil {
		return nil, err
	}
	return &ident, nil
}

// fallbackIdentity builds the neutral identity for an unresolved sender:
// "External User <short-id>" with a synthesized, undeliverable email.
func fallbackIdentity(senderID string) (string, string) {
	short := shortID(senderID)
	return "External User " + short, strings.ToLower(short) + "@external.invalid"
}

func shortID(senderID string) string {
	id := senderID
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	if id == "" {
		id = "unknown"
	}
	return id
}

// heuristicName scans recent message texts for a self-introduction. Base
// confidence 50, +10 when a role keyword appears alongside, bounded to the
// heuristic band.
func heuristicName(texts []string) (string, int) {
	for _, text := range texts {
		m := selfIntroRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		confidence := 50
		lower := strings.ToLower(text)
		for _, kw := range roleKeywords {
			if strings.Contains(lower, kw) {
				confidence += 10
				break
			}
		}
		if confidence > models.ConfidenceHeuristicMax {
			confidence = models.ConfidenceHeuristicMax
		}
		return m[1], confidence
	}
	return "", 0
}
