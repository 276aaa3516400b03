package schema

// builtinSources returns new instances on every call so catalogs never
// share mutable header maps.
func builtinSources() []*Source {
	return []*Source{
		{
			ID: SourcePortal,
			Headers: map[string]string{
				"Order Id":                 "order_id",
				"Order Number":             "transaction_id",
				"Order Total":              "transaction_amount",
				"Delivery Date":            "transaction_date",
				"Order Status":             "status",
				"Payment Method":           "payment_method",
				"RRN":                      "rrn",
				"Auth Code":                "authorization_code",
				"Wallet Paid Amount":       "wallet_paid_amount",
				"Main Wallet Paid Amount":  "main_wallet_paid_amount",
				"Store Wallet Paid Amount": "store_wallet_paid_amount",
				"Collected Cash":           "collected_cash",
				"Total Transfer Fees":      "total_transfer_fees",
				"Chef Total":               "chef_total",
				"Commission Amount":        "commission_amount",
				"Integration":              "gateway",
				"Delivery Type":            "delivery_type",
				"Service Fees":             "service_fees",
			},
			TextColumns: []string{
				"note", "order_items", "customer_name", "chef_name", "commission_percentage",
				"promotion_template_id", "promotion_tier_id", "gift_endurance", "customer_address",
				"external_client_id", "external_order_id", "gift_from", "gift_message",
				"order_content", "order_description", "phone_number", "order_address",
				"customer_email", "driver_id", "additional_info",
			},
			DateLayouts:   []string{"2/1/2006", "2/1/2006 15:04", "2/1/2006 15:04:05"},
			Encoding:      EncodingArabic,
			DuplicateKeys: []string{"order_id", "transaction_date", "payment_method"},
			ViewColumns: []string{
				"order_id", "transaction_amount", "gateway", "status", "payment_method",
				"transaction_date", "customer_name", "chef_name", "chef_total",
				"commission_amount", "delivery_type", "discount_type", "ispaid",
				"transaction_id", "wallet_paid_amount", "promo_code_total_discount",
			},
		},
		{
			ID: SourceMetabase,
			Headers: map[string]string{
				"RRN":                           "rrn",
				"Auth Code":                     "authorization_code",
				"Transaction Amount":            "transaction_amount",
				"Transaction Date":              "transaction_date",
				"Payment Status":                "status",
				"payment_online_transaction_id": "gateway_order_id",
				"Response Code":                 "response_code",
				"Order ID":                      "portal_order_id",
			},
			TextColumns: []string{
				"order_status", "reservation_status", "order_details", "customer_info",
				"payment_details", "comments", "address", "notes", "description", "message",
			},
			DateLayouts: []string{"2006-1-2 15:04:05", "1/2/2006"},
			Encoding:    EncodingArabic,
			ViewColumns: []string{
				"transaction_amount", "status", "gateway", "portal_order_id",
				"gateway_order_id", "gateway_transaction_id", "app_version", "platform",
				"order_status", "order_total", "hyperpay_transaction_id", "success",
				"transactiontype",
			},
		},
		{
			ID: SourceCheckoutV1,
			Headers: map[string]string{
				"Acquirer Reference ID": "rrn",
				"Auth Code":             "authorization_code",
				"Amount":                "transaction_amount",
				"Action Date UTC":       "transaction_date",
				"Action Type":           "status",
				"Payment ID":            "payment_online_transaction_id",
				"Response Code":         "response_code",
				"Reference":             "order_id",
			},
			TextColumns: []string{
				"customer_address", "customer_email", "customer_name", "payment_description",
				"order_details", "notes", "comments", "message", "id_token", "description",
			},
			DateLayouts:   []string{"1/2/2006", "2006-1-2 15:04:05"},
			DuplicateKeys: []string{"payment_unique_number", "action_id", "order_id", "rrn"},
			ViewColumns: []string{
				"transaction_amount", "status", "transaction_date", "payment_online_transaction_id",
				"order_id", "authorization_code", "rrn", "payment_method", "issuing_bank",
				"response_code", "response_description", "processor", "card_wallet_type", "currency",
			},
		},
		{
			ID: SourceCheckoutV2,
			Headers: map[string]string{
				"Acquirer Reference Number": "rrn",
				"Auth Code":                 "authorization_code",
				"Amount":                    "transaction_amount",
				"Action Date UTC":           "action_date_utc_1",
				"Action Type":               "status",
				"Payment ID":                "payment_online_transaction_id",
				"Response Code":             "response_code",
				"Reference":                 "order_id",
			},
			TextColumns: []string{
				"customer_address", "customer_email", "customer_name", "payment_description",
				"order_details", "notes", "comments", "message", "id_token", "description",
			},
			DateLayouts:   []string{"2006-1-2 15:04:05", "1/2/2006"},
			DuplicateKeys: []string{"action_id", "rrn", "order_id"},
			ViewColumns: []string{
				"transaction_amount", "status", "action_date_utc_1", "payment_online_transaction_id",
				"order_id", "authorization_code", "rrn", "payment_method_name", "response_code",
				"response_description", "wallet", "currency_symbol", "co_badged_card",
			},
		},
		{
			ID: SourcePayfort,
			Headers: map[string]string{
				"Merchant Reference":             "order_id",
				"FORT ID":                        "payment_online_transaction_id",
				"Amount":                         "transaction_amount",
				"Date & Time":                    "transaction_date",
				"time":                           "time",
				"Operation":                      "status",
				"Response Code":                  "response_code",
				"Reconciliation Reference (RRN)": "rrn",
				"Authorization Code":             "authorization_code",
				"Payment Option":                 "payment_method",
				"Payment Method":                 "payment_method_type",
				"Channel":                        "channel",
			},
			TextColumns: []string{
				"customer_email", "customer_name", "card_description", "payment_description",
				"notes", "comments", "message", "status_description",
			},
			DateLayouts:    []string{"2006-1-2"},
			ThousandsComma: true,
			DuplicateKeys:  []string{"order_id", "authorization_code", "transaction_amount"},
			ViewColumns: []string{
				"transaction_amount", "status", "transaction_date", "payment_online_transaction_id",
				"order_id", "authorization_code", "rrn", "payment_method", "payment_method_type",
				"acquirer_name", "merchant_country", "channel", "mid", "currency", "time",
			},
		},
		{
			ID: SourceTamara,
			Headers: map[string]string{
				"Merchant Order Number":       "order_id",
				"Tamara Order Id":             "payment_online_transaction_id",
				"Order Amount":                "transaction_amount",
				"Transaction Date DD/MM/YYYY": "txn_created_at_gmt_03_00",
				"Order Status":                "status",
				"RRN":                         "rrn",
				"Auth Code":                   "authorization_code",
				"Payment Type":                "payment_method",
				"Event":                       "transaction_type",
				"Currency":                    "currency",
			},
			TextColumns: []string{
				"comment", "customer_name", "address", "order_reference_id", "consumer_email",
				"consumer_info", "description", "details",
			},
			DateLayouts:   []string{"1/2/2006 15:04", "1/2/2006"},
			DecimalComma:  true,
			Encoding:      EncodingArabic,
			DuplicateKeys: []string{"merchant_order_reference_id", "payment_online_transaction_id", "tamara_txn_reference"},
			ViewColumns: []string{
				"txn_amount", "status", "txn_created_at_gmt_03_00", "payment_online_transaction_id",
				"order_id", "tamara_txn_reference", "payment_method", "customer_name", "txn_type",
				"txn_settlement_status", "order_currency", "country_code", "store_name",
				"total_amount", "order_created_at_gmt_03_00",
			},
		},
		{
			ID: SourceBank,
			Headers: map[string]string{
				"RRN":                "rrn",
				"Authorization Code": "authorization_code",
				"Transaction Amount": "transaction_amount",
				"Transaction Date":   "transaction_date",
				"Payment Status":     "status",
				"Payment ID":         "payment_online_transaction_id",
				"Card Type":          "card_type",
				"Card Number":        "masked_card",
				"Transaction Type":   "transaction_type",
				"Posting Date":       "posting_date",
			},
			TextColumns: []string{
				"customer_info", "transaction_details", "notes", "description",
				"payment_description", "reference", "comments",
			},
			DateLayouts:   []string{"2-1-2006"},
			DuplicateKeys: []string{"masked_card", "transaction_amount", "authorization_code"},
			ViewColumns: []string{
				"authorization_code", "rrn", "transaction_amount", "transaction_date",
				"transaction_type", "status", "bank_name", "card_type", "cashback_amount",
				"discount_amount", "masked_card", "merchant_identifier",
				"payment_online_transaction_id", "posting_date", "terminal_identifier",
				"total_payment_amount", "transaction_link_url", "vat_amount",
			},
		},
	}
}
