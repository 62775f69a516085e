package models

import "gorm.io/gorm"

// All returns every model registered for auto-migration, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Conversation{},
		&Message{},
		&Attachment{},
		&AttachmentTransition{},
		&Participant{},
		&SenderIdentity{},
		&Employee{},
		&MailSource{},
		&SyncRun{},
	}
}

// SeedEmployees loads the internal directory used by identity resolution.
// Existing rows are kept; rows are matched by email.
func SeedEmployees(db *gorm.DB, employees []Employee) error {
	for _, emp := range employees {
		if err := db.FirstOrCreate(&emp, "email = ?", emp.Email).Error; err != nil {
			return err
		}
	}
	return nil
}
