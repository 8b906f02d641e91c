package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		origin VARCHAR(100) NOT NULL,
		destination VARCHAR(100) NOT NULL,
		departure_at DATETIME NOT NULL,
		arrival_at DATETIME NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		total_capacity INT NOT NULL,
		remaining_capacity INT NOT NULL,
		company_name VARCHAR(100) NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		CONSTRAINT chk_tickets_capacity CHECK (remaining_capacity >= 0 AND remaining_capacity <= total_capacity),
		INDEX idx_tickets_route (origin, destination, departure_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS airplane_tickets (
		ticket_id BIGINT PRIMARY KEY,
		flight_class VARCHAR(50) NOT NULL,
		number_of_stops INT NOT NULL DEFAULT 0,
		flight_number VARCHAR(20) NOT NULL,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS bus_tickets (
		ticket_id BIGINT PRIMARY KEY,
		bus_type VARCHAR(50) NOT NULL,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS train_tickets (
		ticket_id BIGINT PRIMARY KEY,
		number_of_stars INT NOT NULL,
		closed_compartment BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		ticket_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL,
		reserved_at DATETIME(3) NOT NULL,
		expires_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id),
		INDEX idx_reservations_expiry (status, expires_at),
		INDEX idx_reservations_user (user_id, reserved_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		reservation_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		method VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		reference VARCHAR(32) NOT NULL,
		paid_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_payments_reservation (reservation_id),
		FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

	`CREATE TABLE IF NOT EXISTS reconciliation_events (
		id CHAR(36) PRIMARY KEY,
		ticket_id BIGINT NOT NULL,
		target VARCHAR(20) NOT NULL,
		reason TEXT NOT NULL,
		remaining_capacity INT NOT NULL,
		version BIGINT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		resolved_at DATETIME(3) NULL,
		INDEX idx_reconciliation_pending (resolved_at, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}
