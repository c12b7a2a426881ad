package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL,
    bot_name VARCHAR(64) NOT NULL,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    locale VARCHAR(8) NOT NULL DEFAULT 'ru',
    balance BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_user_bot (telegram_id, bot_name)
);

CREATE TABLE IF NOT EXISTS transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    invoice_id VARCHAR(128) NOT NULL UNIQUE,
    user_id BIGINT NOT NULL,
    bot_name VARCHAR(64) NOT NULL,
    amount BIGINT NOT NULL,
    direction VARCHAR(16) NOT NULL,
    category VARCHAR(16) NOT NULL,
    service_type VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_transactions_user (user_id, status),
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS artifacts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    invoice_id VARCHAR(128) NOT NULL,
    model_key VARCHAR(64) NOT NULL,
    source_url TEXT NOT NULL,
    stored_key VARCHAR(255) NOT NULL,
    stored_url TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_artifacts_user (user_id),
    KEY idx_artifacts_invoice (invoice_id),
    FOREIGN KEY (user_id) REFERENCES users(id)
);
`
